// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package leaseclient is the runtime side of the lease protocol. A
// Session holds one agent's lease: it performs the handshake, keeps
// the decrypted provider secret in guarded memory, gates provider
// calls through a local guard, ships usage reports asynchronously,
// refreshes the lease when the local balance runs low, and settles on
// Close.
//
// Report delivery is fire-and-forget from the caller's point of view:
// RecordUsage updates the local guard and queues the report, and a
// worker goroutine handles delivery, retries, and spooling. A report
// that cannot be delivered after the configured retries is written to
// an on-disk spool and replayed later; reports are never silently
// dropped. The one unrecoverable condition is a secret that fails to
// decrypt — that is an integrity violation and the session refuses to
// exist.
package leaseclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/guard"
	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/pricing"
	"github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/secret"
	"github.com/bursar-io/bursar/lib/service"
	"github.com/bursar-io/bursar/lib/vault"
)

var (
	// ErrReportDeliveryFailed means a usage report exhausted its
	// delivery attempts and went to the spool. The session keeps
	// running on its local budget; the report replays later.
	ErrReportDeliveryFailed = errors.New("leaseclient: report delivery failed")

	// ErrRefreshDenied means the arbiter refused a new tranche: the
	// agent's total budget is exhausted. Terminal until an operator
	// or an approved change request raises the budget.
	ErrRefreshDenied = errors.New("leaseclient: refresh denied")

	// ErrNoLease means the session has no active lease: Handshake was
	// never called, or the session is closed.
	ErrNoLease = errors.New("leaseclient: no active lease")
)

// Default delivery parameters: three attempts per report, first retry
// after 500ms, doubling.
const (
	defaultAttempts   = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// queueDepth is the report queue capacity. A full queue spools
// directly rather than blocking the caller.
const queueDepth = 256

// Config carries the session's dependencies. SocketPath, Credential,
// SpoolDir, and Logger are required.
type Config struct {
	// SocketPath is the ledger service socket.
	SocketPath string

	// Credential is the agent credential minted at enrollment, sent
	// with every request.
	Credential []byte

	// SpoolDir holds undeliverable usage reports.
	SpoolDir string

	// Pricing estimates worst-case call costs for Precheck. Nil
	// disables estimation: Precheck then only requires a positive
	// local balance.
	Pricing *pricing.Table

	// LowWater overrides the guard's refresh threshold. Zero means
	// guard.DefaultLowWater.
	LowWater money.Micros

	// Attempts and RetryDelay override report delivery behavior.
	// Zero means the defaults.
	Attempts   int
	RetryDelay time.Duration

	// Clock paces delivery retries. Nil means the system clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Session is one agent runtime's connection to the ledger. Safe for
// concurrent use.
type Session struct {
	client     *service.ServiceClient
	spool      *spool
	pricing    *pricing.Table
	lowWater   money.Micros
	attempts   int
	retryDelay time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	leaseID  string
	provider string
	guard    *guard.Guard
	secret   *secret.Buffer
	lastErr  error
	closed   bool

	queue      chan budget.UsageReport
	workerDone chan struct{}
}

// Dial creates a session. No I/O happens until Handshake.
func Dial(cfg Config) (*Session, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("leaseclient: SocketPath is required")
	}
	if len(cfg.Credential) == 0 {
		return nil, fmt.Errorf("leaseclient: Credential is required")
	}
	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("leaseclient: SpoolDir is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("leaseclient: Logger is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	sp, err := openSpool(cfg.SpoolDir)
	if err != nil {
		return nil, err
	}

	s := &Session{
		client:     service.NewServiceClientFromToken(cfg.SocketPath, cfg.Credential),
		spool:      sp,
		pricing:    cfg.Pricing,
		lowWater:   cfg.LowWater,
		attempts:   attempts,
		retryDelay: retryDelay,
		clock:      clk,
		logger:     cfg.Logger,
		queue:      make(chan budget.UsageReport, queueDepth),
		workerDone: make(chan struct{}),
	}
	go s.reportWorker()
	return s, nil
}

// Handshake opens a lease for the given provider and decrypts the
// provider secret into guarded memory. A requested amount of zero asks
// for the service's default tranche.
//
// A decrypt failure of the returned secret is fatal: the session is
// torn down and vault.ErrDecryptFailed surfaces to the caller, who
// must not retry.
func (s *Session) Handshake(ctx context.Context, provider string, requested money.Micros) (*budget.HandshakeResponse, error) {
	request := budget.HandshakeRequest{
		RequestedBudget: requested,
		Provider:        provider,
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response budget.HandshakeResponse
	err := s.client.Call(ctx, budget.ActionHandshake, map[string]any{
		"requested_budget": request.RequestedBudget,
		"provider":         request.Provider,
	}, &response)
	if err != nil {
		return nil, err
	}

	opened, err := vault.Open(response.EncryptedSecret, response.LeaseKey, response.LeaseID)
	secret.Zero(response.LeaseKey)
	response.LeaseKey = nil
	response.EncryptedSecret = nil
	if err != nil {
		// Integrity violation: the service handed us a secret we
		// cannot open. Nothing about retrying can fix that.
		s.logger.Error("provider secret decrypt failed, terminating session",
			"lease_id", response.LeaseID, "error", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		opened.Close()
		return nil, ErrNoLease
	}
	if s.secret != nil {
		s.secret.Close()
	}
	s.leaseID = response.LeaseID
	s.provider = response.Provider
	s.guard = guard.New(response.BudgetGranted, s.lowWater)
	s.secret = opened

	s.logger.Info("lease opened",
		"lease_id", response.LeaseID,
		"provider", response.Provider,
		"granted", response.BudgetGranted.String(),
		"remaining", response.BudgetRemaining.String())
	return &response, nil
}

// Secret returns the decrypted provider secret. The buffer is owned
// by the session and zeroed when the session closes or the lease is
// refreshed; callers must not retain its bytes.
func (s *Session) Secret() (*secret.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret == nil {
		return nil, ErrNoLease
	}
	return s.secret, nil
}

// LeaseID returns the active lease ID, or empty when there is none.
func (s *Session) LeaseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaseID
}

// Remaining returns the local lease balance.
func (s *Session) Remaining() money.Micros {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guard == nil {
		return 0
	}
	return s.guard.Remaining()
}

// LowWater reports whether the local balance is below the refresh
// threshold.
func (s *Session) LowWater() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard != nil && s.guard.LowWater()
}

// Precheck gates a provider call against the local balance. With a
// pricing table it estimates the worst-case cost of the call; without
// one it only requires a positive balance. Returns
// guard.ErrBudgetExceeded when the balance cannot cover the call.
// Purely local: no network, suitable for the hot path.
func (s *Session) Precheck(model string, inputTokens, maxOutputTokens int64) error {
	s.mu.Lock()
	g := s.guard
	s.mu.Unlock()
	if g == nil {
		return ErrNoLease
	}

	var estimate money.Micros
	if s.pricing != nil {
		if cost, err := s.pricing.EstimateMax(model, inputTokens, maxOutputTokens); err == nil {
			estimate = cost
		}
		// Unknown models fall through with a zero estimate: the
		// table gates cost, not model availability.
	}
	return g.Check(estimate)
}

// RecordUsage records the actual cost of a completed provider call
// and queues the usage report for delivery. Returns immediately; the
// report worker owns delivery. requestID is the idempotency key and
// must be unique per call (retrying a failed delivery reuses it, which
// is the point).
func (s *Session) RecordUsage(requestID string, tokens int64, cost money.Micros, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.guard == nil || s.leaseID == "" {
		return ErrNoLease
	}

	report := budget.UsageReport{
		LeaseID:   s.leaseID,
		RequestID: requestID,
		Tokens:    tokens,
		Cost:      cost,
		Model:     model,
		Provider:  s.provider,
		Timestamp: s.clock.Now().UnixMilli(),
	}
	if err := report.Validate(); err != nil {
		return err
	}
	s.guard.Record(cost)

	// The enqueue stays under the lock so Close cannot close the
	// queue between the closed check and the send.
	select {
	case s.queue <- report:
	default:
		// Queue full: spool rather than block the caller.
		if err := s.spool.write(report); err != nil {
			s.lastErr = fmt.Errorf("%w: queue full and spool failed: %v", ErrReportDeliveryFailed, err)
			return nil
		}
		s.logger.Warn("report queue full, spooled",
			"lease_id", report.LeaseID, "request_id", report.RequestID)
	}
	return nil
}

// Refresh asks the arbiter for a fresh tranche, replacing the current
// lease and secret on approval. A requested amount of zero asks for
// the default tranche. Denial returns ErrRefreshDenied: the agent's
// total budget is exhausted and new provider calls must stop.
func (s *Session) Refresh(ctx context.Context, requested money.Micros) (*budget.RefreshResponse, error) {
	s.mu.Lock()
	leaseID := s.leaseID
	s.mu.Unlock()
	if leaseID == "" {
		return nil, ErrNoLease
	}

	var response budget.RefreshResponse
	err := s.client.Call(ctx, budget.ActionRefresh, map[string]any{
		"lease_id":         leaseID,
		"requested_budget": requested,
	}, &response)
	if err != nil {
		return nil, err
	}

	if response.Status != budget.RefreshApproved {
		s.logger.Warn("refresh denied",
			"lease_id", leaseID,
			"reason", response.Reason,
			"remaining", response.BudgetRemaining.String())
		return &response, fmt.Errorf("%w: %s", ErrRefreshDenied, response.Reason)
	}

	opened, err := vault.Open(response.EncryptedSecret, response.LeaseKey, response.LeaseID)
	secret.Zero(response.LeaseKey)
	response.LeaseKey = nil
	response.EncryptedSecret = nil
	if err != nil {
		s.logger.Error("refreshed secret decrypt failed, terminating session",
			"lease_id", response.LeaseID, "error", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		opened.Close()
		return nil, ErrNoLease
	}
	if s.secret != nil {
		s.secret.Close()
	}
	oldSpent := s.guard.Swap(response.BudgetGranted)
	s.leaseID = response.LeaseID
	s.secret = opened

	s.logger.Info("lease refreshed",
		"lease_id", response.LeaseID,
		"granted", response.BudgetGranted.String(),
		"previous_lease_spent", oldSpent.String())
	return &response, nil
}

// Err returns the most recent delivery error, if any. A non-nil
// result wraps ErrReportDeliveryFailed; the session is still usable.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Close settles the session: stops accepting reports, drains the
// queue, replays the spool, returns the lease with the final local
// spend, and zeroes the provider secret. Safe to call without an
// active lease.
func (s *Session) Close(ctx context.Context) (*budget.ReturnResponse, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNoLease
	}
	s.closed = true
	leaseID := s.leaseID
	var finalSpent money.Micros
	if s.guard != nil {
		finalSpent = s.guard.Spent()
	}
	// Closing the queue under the lock pairs with RecordUsage's
	// locked enqueue.
	close(s.queue)
	s.mu.Unlock()

	// Drain in-flight reports before settling, so the server's lease
	// spend is as complete as delivery allows.
	<-s.workerDone
	s.replaySpool(ctx)

	var response *budget.ReturnResponse
	var returnErr error
	if leaseID != "" {
		response = &budget.ReturnResponse{}
		returnErr = s.client.Call(ctx, budget.ActionReturn, map[string]any{
			"lease_id":    leaseID,
			"final_spent": finalSpent,
		}, response)
		if returnErr != nil {
			// Best effort: a crash-equivalent exit. The unspent
			// tranche stays carved out until an operator settles it.
			s.logger.Error("lease return failed", "lease_id", leaseID, "error", returnErr)
			response = nil
		} else {
			s.logger.Info("lease settled",
				"lease_id", leaseID,
				"returned", response.Returned.String(),
				"remaining", response.BudgetRemaining.String())
		}
	}

	s.mu.Lock()
	if s.secret != nil {
		s.secret.Close()
		s.secret = nil
	}
	s.leaseID = ""
	s.guard = nil
	s.mu.Unlock()

	return response, returnErr
}
