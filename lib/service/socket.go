// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/codec"
)

// ActionFunc processes an unauthenticated socket request. The raw
// parameter is the full CBOR request (including the "action" field);
// the handler decodes action-specific fields from it.
//
// Return a value to include in the success response, or an error for
// a failure response. A nil value produces {ok: true} with no data;
// non-nil is marshaled as CBOR into the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// AuthActionFunc processes an authenticated request. The token has
// already been signature-checked against the service key, matched to
// this service's audience, and screened against the revocation set.
// Grant enforcement is the handler's job: the token says who the
// caller is, not what this action permits.
type AuthActionFunc func(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error)

// StreamActionFunc processes an authenticated streaming request. The
// handler owns the connection until it returns: it writes CBOR values
// directly and returns when done or when ctx is cancelled. No response
// envelope is written for stream actions.
type StreamActionFunc func(ctx context.Context, token *agenttoken.Token, raw []byte, conn net.Conn)

// Response is the wire-format envelope for request-response actions.
// Handlers return a result value (or nil) and an error; the server
// wraps these into a Response before encoding.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. Each connection handles exactly one request: the client
// writes a CBOR value, the server processes it and writes a CBOR
// response, then the connection closes. Streaming actions instead
// hold the connection and write values until the handler returns.
//
// Actions are registered with Handle, HandleAuth, or HandleAuthStream
// before calling Serve. Unknown actions receive an error response.
type SocketServer struct {
	socketPath     string
	handlers       map[string]ActionFunc
	authHandlers   map[string]AuthActionFunc
	streamHandlers map[string]StreamActionFunc
	auth           *AuthConfig
	logger         *slog.Logger

	// activeConnections tracks in-flight request handlers for graceful
	// shutdown. Serve waits for all active connections to complete
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
// authConfig may be nil for servers that expose only unauthenticated
// actions. Register actions before calling Serve.
func NewSocketServer(socketPath string, logger *slog.Logger, authConfig *AuthConfig) *SocketServer {
	return &SocketServer{
		socketPath:     socketPath,
		handlers:       make(map[string]ActionFunc),
		authHandlers:   make(map[string]AuthActionFunc),
		streamHandlers: make(map[string]StreamActionFunc),
		auth:           authConfig,
		logger:         logger,
	}
}

// Handle registers an unauthenticated handler for the given action.
// Panics if called after Serve has started or if the action is
// already registered in any handler map.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.checkDuplicate(action)
	s.handlers[action] = handler
}

// HandleAuth registers an authenticated handler. Panics if the server
// was constructed without an AuthConfig or the action is already
// registered.
func (s *SocketServer) HandleAuth(action string, handler AuthActionFunc) {
	if s.auth == nil {
		panic("service.SocketServer: HandleAuth requires AuthConfig")
	}
	s.checkDuplicate(action)
	s.authHandlers[action] = handler
}

// HandleAuthStream registers an authenticated streaming handler.
// Panics if the server was constructed without an AuthConfig or the
// action is already registered.
func (s *SocketServer) HandleAuthStream(action string, handler StreamActionFunc) {
	if s.auth == nil {
		panic("service.SocketServer: HandleAuthStream requires AuthConfig")
	}
	s.checkDuplicate(action)
	s.streamHandlers[action] = handler
}

func (s *SocketServer) checkDuplicate(action string) {
	_, inPlain := s.handlers[action]
	_, inAuth := s.authHandlers[action]
	_, inStream := s.streamHandlers[action]
	if inPlain || inAuth || inStream {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
}

// RegisterRevocationHandler registers the built-in "revoke-tokens"
// action. The request carries a revocation payload signed with the
// same key that mints credentials; on success every listed credential
// ID is added to the server's revocation set. Requires an AuthConfig
// with a revocation set.
func (s *SocketServer) RegisterRevocationHandler() {
	if s.auth == nil || s.auth.Revocations == nil {
		panic("service.SocketServer: RegisterRevocationHandler requires AuthConfig with Revocations")
	}
	s.Handle("revoke-tokens", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Revocation []byte `cbor:"revocation"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %v", err)
		}
		if len(request.Revocation) == 0 {
			return nil, errors.New("missing required field: revocation")
		}

		decoded, err := agenttoken.VerifyRevocation(s.auth.PublicKey, request.Revocation)
		if err != nil {
			return nil, fmt.Errorf("revocation verification failed: %v", err)
		}

		for _, id := range decoded.CredentialIDs {
			s.auth.Revocations.Revoke(id)
		}
		s.logger.Info("credentials revoked", "count", len(decoded.CredentialIDs))
		return map[string]any{"revoked": len(decoded.CredentialIDs)}, nil
	})
}

// Serve starts accepting connections on the Unix socket and dispatches
// requests to registered action handlers. Blocks until ctx is
// cancelled, then stops accepting new connections and waits for active
// handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for the response to be written.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. 1 MB
// is generous: the largest requests are vault key uploads, and a
// sealed provider key is a few hundred bytes.
const maxRequestSize = 1024 * 1024

// handleConnection processes one request: decode, route, respond (or
// hand off to a stream handler).
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Decode one CBOR value from the connection. CBOR is self-
	// delimiting so no framing protocol is needed. LimitReader
	// prevents a malicious client from exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	// Extract the action field for routing.
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if handler, exists := s.handlers[header.Action]; exists {
		result, err := handler(ctx, []byte(raw))
		if err != nil {
			s.logger.Debug("action failed", "action", header.Action, "error", err)
			s.writeError(conn, err.Error())
			return
		}
		s.writeSuccess(conn, result)
		return
	}

	if handler, exists := s.authHandlers[header.Action]; exists {
		token, err := s.auth.authenticate([]byte(raw))
		if err != nil {
			s.logger.Debug("authentication failed", "action", header.Action, "error", err)
			s.writeError(conn, err.Error())
			return
		}
		result, err := handler(ctx, token, []byte(raw))
		if err != nil {
			s.logger.Debug("action failed",
				"action", header.Action,
				"subject", token.Subject,
				"error", err,
			)
			s.writeError(conn, err.Error())
			return
		}
		s.writeSuccess(conn, result)
		return
	}

	if handler, exists := s.streamHandlers[header.Action]; exists {
		token, err := s.auth.authenticate([]byte(raw))
		if err != nil {
			s.logger.Debug("authentication failed", "action", header.Action, "error", err)
			s.writeError(conn, err.Error())
			return
		}
		// The stream handler owns the connection from here. Clear the
		// read deadline so long-lived streams are not torn down by the
		// request timeout; the handler exits on ctx cancellation.
		conn.SetReadDeadline(time.Time{})
		handler(ctx, token, []byte(raw), conn)
		return
	}

	s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
}

// writeError sends a failure response: {ok: false, error: "..."}.
// Write failures are logged at debug level: the connection is closing
// regardless, and the caller has already received the error.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends a success response. If result is nil, the
// response is {ok: true}. If non-nil, the value is marshaled as CBOR
// and placed in the "data" field: {ok: true, data: <cbor>}.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
