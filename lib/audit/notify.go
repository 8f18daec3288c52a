// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bursar-io/bursar/lib/codec"
)

// notifyTimeout bounds each datagram send so a stalled listener can
// never back up Append.
const notifyTimeout = 50 * time.Millisecond

// SocketNotifier forwards appended records to a unix datagram socket
// as CBOR, one record per datagram. Sends are fire-and-forget: a
// gone or slow listener drops the record, never the append.
type SocketNotifier struct {
	conn   *net.UnixConn
	logger *slog.Logger
}

// NewSocketNotifier connects to the listener at socketPath. The
// listener must already exist.
func NewSocketNotifier(socketPath string, logger *slog.Logger) (*SocketNotifier, error) {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: socketPath, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("audit: dialing notify socket: %w", err)
	}
	return &SocketNotifier{conn: conn, logger: logger}, nil
}

// Notify sends one record. Failures are logged at debug and dropped.
func (n *SocketNotifier) Notify(record *Record) {
	data, err := codec.Marshal(record)
	if err != nil {
		n.logger.Warn("audit notify: encoding record", "error", err)
		return
	}

	n.conn.SetWriteDeadline(time.Now().Add(notifyTimeout))
	if _, err := n.conn.Write(data); err != nil {
		n.logger.Debug("audit notify dropped", "sequence", record.Sequence, "error", err)
	}
}

// Close releases the socket.
func (n *SocketNotifier) Close() error {
	return n.conn.Close()
}
