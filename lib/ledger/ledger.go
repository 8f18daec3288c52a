// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger is the authoritative budget store: agents, their
// budgets, leases, reconciled usage, modifications, and the
// change-request workflow, all in SQLite.
//
// Remaining budget is derived, never stored:
//
//	remaining = total - spent - sum over active leases of (granted - lease spent)
//
// A handshake carves a tranche out of remaining by inserting an active
// lease; reconciled reports raise the agent's spent and the lease's
// spent together, leaving remaining untouched; settlement closes the
// lease and the unspent part of the grant falls back into remaining.
// At every quiescent point (no active leases) spent + remaining equals
// total exactly.
//
// Every mutation for one agent serializes on that agent's stripe lock,
// so operations on one agent are strictly ordered while different
// agents proceed in parallel. All writes go through SQLite immediate
// transactions on top of that; the stripe lock is what makes
// read-decide-write sequences race-free.
package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/audit"
	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/sqlitepool"
	"github.com/bursar-io/bursar/lib/vault"
)

// DefaultTranche is the grant for a handshake or refresh that does not
// name an amount: 10 currency units.
const DefaultTranche = money.Micros(10) * money.PerUnit

// stripeCount is the number of agent mutation locks. Agents hash onto
// stripes; two agents sharing a stripe serialize needlessly but never
// incorrectly.
const stripeCount = 64

// Config carries the ledger's dependencies. Pool, Vault, Keys,
// SigningKey, Clock, and Logger are required; Audit and Revocations
// are optional but any real deployment wants both.
type Config struct {
	// Pool is the SQLite connection pool. The ledger shares it with
	// the vault key store; both create their own tables.
	Pool *sqlitepool.Pool

	// Vault unseals provider keys and issues per-lease secrets.
	Vault *vault.Vault

	// Keys is the provider key store secrets are issued from.
	Keys *vault.Store

	// SigningKey mints agent credentials at enrollment.
	SigningKey ed25519.PrivateKey

	// Audit receives a record for every mutation. Nil disables the
	// trail.
	Audit *audit.Log

	// Revocations is the credential revocation set shared with the
	// socket server. Archive adds the agent's credential to it; New
	// loads previously revoked IDs into it.
	Revocations *agenttoken.Revocations

	// DefaultTranche overrides the grant for zero-amount handshake
	// and refresh requests. Zero means DefaultTranche.
	DefaultTranche money.Micros

	Clock  clock.Clock
	Logger *slog.Logger
}

// Ledger is the budget control plane. Safe for concurrent use.
type Ledger struct {
	pool           *sqlitepool.Pool
	vault          *vault.Vault
	keys           *vault.Store
	signingKey     ed25519.PrivateKey
	auditLog       *audit.Log
	revocations    *agenttoken.Revocations
	defaultTranche money.Micros
	clock          clock.Clock
	logger         *slog.Logger

	stripes [stripeCount]sync.Mutex
}

// New opens the ledger over the given pool, creating its tables if
// needed and loading persisted credential revocations into the shared
// revocation set.
func New(cfg Config) (*Ledger, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("ledger: Pool is required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("ledger: Vault is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("ledger: Keys is required")
	}
	if len(cfg.SigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ledger: SigningKey is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("ledger: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("ledger: Logger is required")
	}

	defaultTranche := cfg.DefaultTranche
	if defaultTranche <= 0 {
		defaultTranche = DefaultTranche
	}

	l := &Ledger{
		pool:           cfg.Pool,
		vault:          cfg.Vault,
		keys:           cfg.Keys,
		signingKey:     cfg.SigningKey,
		auditLog:       cfg.Audit,
		revocations:    cfg.Revocations,
		defaultTranche: defaultTranche,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}

	if err := l.ensureSchema(); err != nil {
		return nil, err
	}
	if err := l.loadRevocations(); err != nil {
		return nil, err
	}
	return l, nil
}

// lockAgent takes the stripe lock for an agent and returns the unlock.
// Every mutation path locks exactly one agent, so there is no lock
// ordering to get wrong.
func (l *Ledger) lockAgent(agentID string) func() {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	stripe := &l.stripes[h.Sum32()%stripeCount]
	stripe.Lock()
	return stripe.Unlock
}

// newID mints a prefixed random identifier: the prefix, a hyphen, and
// 16 hex characters. Panics if the system entropy source fails, which
// no caller can recover from.
func newID(prefix string) string {
	var buffer [8]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		panic("ledger: failed to generate ID: " + err.Error())
	}
	return prefix + "-" + hex.EncodeToString(buffer[:])
}

func newLeaseID() string        { return newID("lease") }
func newModificationID() string { return newID("bmod") }
func newRequestID() string      { return newID("breq") }
func newCredentialID() string   { return newID("bcred") }

// appendAudit writes one record to the audit trail. The SQLite row is
// the authority; a failed trail append is logged and the operation
// stands.
func (l *Ledger) appendAudit(record audit.Record) {
	if l.auditLog == nil {
		return
	}
	if err := l.auditLog.Append(record); err != nil {
		l.logger.Error("audit append failed",
			"action", record.Action,
			"agent_id", record.AgentID,
			"error", err)
	}
}

// internalError logs an invariant violation with full detail and
// returns the opaque error callers see.
func (l *Ledger) internalError(op string, err error) error {
	l.logger.Error("ledger invariant violation", "op", op, "error", err)
	return errInternal
}
