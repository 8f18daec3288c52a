// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// schema is the ledger's DDL. Amounts are micros in INTEGER columns;
// timestamps are Unix seconds except usage_entries.client_time, which
// preserves the client's millisecond clock for audit. provider_keys
// lives next to these tables but belongs to the vault key store.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
    agent_id      TEXT PRIMARY KEY,
    display_name  TEXT NOT NULL DEFAULT '',
    project       TEXT NOT NULL,
    organization  TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'active',
    credential_id TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS budgets (
    agent_id   TEXT PRIMARY KEY REFERENCES agents(agent_id),
    total      INTEGER NOT NULL,
    spent      INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS leases (
    lease_id     TEXT PRIMARY KEY,
    agent_id     TEXT NOT NULL REFERENCES agents(agent_id),
    provider     TEXT NOT NULL,
    key_id       TEXT NOT NULL DEFAULT '',
    granted      INTEGER NOT NULL,
    spent        INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL DEFAULT 'active',
    close_reason TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    closed_at    INTEGER
);

CREATE INDEX IF NOT EXISTS idx_leases_agent_status
    ON leases (agent_id, status);

CREATE TABLE IF NOT EXISTS usage_entries (
    lease_id    TEXT NOT NULL REFERENCES leases(lease_id),
    request_id  TEXT NOT NULL,
    agent_id    TEXT NOT NULL,
    provider    TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL DEFAULT '',
    tokens      INTEGER NOT NULL,
    cost        INTEGER NOT NULL,
    reported_at INTEGER NOT NULL,
    client_time INTEGER,
    PRIMARY KEY (lease_id, request_id)
);

CREATE INDEX IF NOT EXISTS idx_usage_entries_agent
    ON usage_entries (agent_id);

CREATE INDEX IF NOT EXISTS idx_usage_entries_provider
    ON usage_entries (provider);

CREATE TABLE IF NOT EXISTS modifications (
    modification_id TEXT PRIMARY KEY,
    agent_id        TEXT NOT NULL REFERENCES agents(agent_id),
    kind            TEXT NOT NULL,
    previous_budget INTEGER NOT NULL,
    new_budget      INTEGER NOT NULL,
    reason          TEXT NOT NULL,
    actor           TEXT NOT NULL,
    request_id      TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_modifications_agent
    ON modifications (agent_id, created_at);

CREATE TABLE IF NOT EXISTS change_requests (
    request_id       TEXT PRIMARY KEY,
    agent_id         TEXT NOT NULL REFERENCES agents(agent_id),
    requester        TEXT NOT NULL,
    snapshot_budget  INTEGER NOT NULL,
    requested_budget INTEGER NOT NULL,
    justification    TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    reviewed_by      TEXT NOT NULL DEFAULT '',
    review_notes     TEXT NOT NULL DEFAULT '',
    approved_budget  INTEGER NOT NULL DEFAULT 0,
    modification_id  TEXT NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_change_requests_agent
    ON change_requests (agent_id, status);

CREATE TABLE IF NOT EXISTS revoked_credentials (
    credential_id TEXT PRIMARY KEY,
    agent_id      TEXT NOT NULL,
    revoked_at    INTEGER NOT NULL
);
`

func (l *Ledger) ensureSchema() error {
	conn, err := l.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	defer l.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	return nil
}

// loadRevocations folds persisted credential revocations into the
// shared revocation set so archives survive restarts.
func (l *Ledger) loadRevocations() error {
	if l.revocations == nil {
		return nil
	}

	conn, err := l.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("ledger: load revocations: %w", err)
	}
	defer l.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn, `SELECT credential_id FROM revoked_credentials`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("ledger: load revocations: %w", err)
	}

	l.revocations.Load(ids)
	if len(ids) > 0 {
		l.logger.Info("loaded credential revocations", "count", len(ids))
	}
	return nil
}

// budgetState is one agent's accounting position. Remaining is the
// derived figure; Outstanding sums granted minus spent across active
// leases.
type budgetState struct {
	Total         money.Micros
	Spent         money.Micros
	Outstanding   money.Micros
	ActiveLeaseID string
	UpdatedAt     int64
}

func (s budgetState) Remaining() money.Micros {
	return s.Total - s.Spent - s.Outstanding
}

// loadBudgetState reads an agent's budget row plus lease aggregates in
// one query. Returns ErrAgentNotFound when the agent has no budget
// row, which only happens for agents that were never enrolled.
func loadBudgetState(conn *sqlite.Conn, agentID string) (budgetState, error) {
	var state budgetState
	found := false
	err := sqlitex.Execute(conn, `
		SELECT b.total, b.spent, b.updated_at,
		       COALESCE((SELECT SUM(l.granted - l.spent) FROM leases l
		                 WHERE l.agent_id = b.agent_id AND l.status = 'active'), 0),
		       COALESCE((SELECT l.lease_id FROM leases l
		                 WHERE l.agent_id = b.agent_id AND l.status = 'active'
		                 ORDER BY l.created_at DESC, l.lease_id DESC LIMIT 1), '')
		FROM budgets b WHERE b.agent_id = ?`, &sqlitex.ExecOptions{
		Args: []any{agentID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			state.Total = money.Micros(stmt.ColumnInt64(0))
			state.Spent = money.Micros(stmt.ColumnInt64(1))
			state.UpdatedAt = stmt.ColumnInt64(2)
			state.Outstanding = money.Micros(stmt.ColumnInt64(3))
			state.ActiveLeaseID = stmt.ColumnText(4)
			return nil
		},
	})
	if err != nil {
		return budgetState{}, fmt.Errorf("ledger: load budget %s: %w", agentID, err)
	}
	if !found {
		return budgetState{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return state, nil
}

// statement renders a budget state as the wire Statement.
func statement(agentID string, state budgetState) *budget.Statement {
	return &budget.Statement{
		AgentID:       agentID,
		Total:         state.Total,
		Spent:         state.Spent,
		Outstanding:   state.Outstanding,
		Remaining:     state.Remaining(),
		ActiveLeaseID: state.ActiveLeaseID,
		UpdatedAt:     state.UpdatedAt,
	}
}

// loadAgent reads one agent row. Returns ErrAgentNotFound for unknown
// IDs; archived agents load normally, callers check Status.
func loadAgent(conn *sqlite.Conn, agentID string) (budget.AgentRecord, error) {
	var record budget.AgentRecord
	err := sqlitex.Execute(conn, `
		SELECT agent_id, display_name, project, organization, status,
		       credential_id, created_at, updated_at
		FROM agents WHERE agent_id = ?`, &sqlitex.ExecOptions{
		Args: []any{agentID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record = scanAgent(stmt)
			return nil
		},
	})
	if err != nil {
		return budget.AgentRecord{}, fmt.Errorf("ledger: load agent %s: %w", agentID, err)
	}
	if record.AgentID == "" {
		return budget.AgentRecord{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return record, nil
}

func scanAgent(stmt *sqlite.Stmt) budget.AgentRecord {
	return budget.AgentRecord{
		AgentID:      stmt.ColumnText(0),
		DisplayName:  stmt.ColumnText(1),
		Project:      stmt.ColumnText(2),
		Organization: stmt.ColumnText(3),
		Status:       stmt.ColumnText(4),
		CredentialID: stmt.ColumnText(5),
		CreatedAt:    stmt.ColumnInt64(6),
		UpdatedAt:    stmt.ColumnInt64(7),
	}
}

// leaseRow mirrors one leases row.
type leaseRow struct {
	LeaseID     string
	AgentID     string
	Provider    string
	KeyID       string
	Granted     money.Micros
	Spent       money.Micros
	Status      string
	CloseReason string
	CreatedAt   int64
	ClosedAt    int64
}

const leaseColumns = `lease_id, agent_id, provider, key_id, granted,
	spent, status, close_reason, created_at, COALESCE(closed_at, 0)`

func scanLease(stmt *sqlite.Stmt) leaseRow {
	return leaseRow{
		LeaseID:     stmt.ColumnText(0),
		AgentID:     stmt.ColumnText(1),
		Provider:    stmt.ColumnText(2),
		KeyID:       stmt.ColumnText(3),
		Granted:     money.Micros(stmt.ColumnInt64(4)),
		Spent:       money.Micros(stmt.ColumnInt64(5)),
		Status:      stmt.ColumnText(6),
		CloseReason: stmt.ColumnText(7),
		CreatedAt:   stmt.ColumnInt64(8),
		ClosedAt:    stmt.ColumnInt64(9),
	}
}

// loadLease reads one lease row by ID.
func loadLease(conn *sqlite.Conn, leaseID string) (leaseRow, error) {
	var row leaseRow
	err := sqlitex.Execute(conn,
		`SELECT `+leaseColumns+` FROM leases WHERE lease_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{leaseID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row = scanLease(stmt)
				return nil
			},
		})
	if err != nil {
		return leaseRow{}, fmt.Errorf("ledger: load lease %s: %w", leaseID, err)
	}
	if row.LeaseID == "" {
		return leaseRow{}, fmt.Errorf("%w: %s", ErrLeaseNotFound, leaseID)
	}
	return row, nil
}

// activeLease finds an agent's active lease, if any.
func activeLease(conn *sqlite.Conn, agentID string) (leaseRow, bool, error) {
	var row leaseRow
	found := false
	err := sqlitex.Execute(conn,
		`SELECT `+leaseColumns+` FROM leases
		 WHERE agent_id = ? AND status = 'active'
		 ORDER BY created_at DESC, lease_id DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{agentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				row = scanLease(stmt)
				return nil
			},
		})
	if err != nil {
		return leaseRow{}, false, fmt.Errorf("ledger: active lease for %s: %w", agentID, err)
	}
	return row, found, nil
}

// insertLease writes a fresh active lease row.
func insertLease(conn *sqlite.Conn, row leaseRow) error {
	err := sqlitex.Execute(conn, `
		INSERT INTO leases (lease_id, agent_id, provider, key_id, granted, spent, status, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 'active', ?)`, &sqlitex.ExecOptions{
		Args: []any{row.LeaseID, row.AgentID, row.Provider, row.KeyID,
			int64(row.Granted), row.CreatedAt},
	})
	if err != nil {
		return fmt.Errorf("ledger: insert lease %s: %w", row.LeaseID, err)
	}
	return nil
}

// settlementOutcome reports what closing a lease did.
type settlementOutcome struct {
	Returned   money.Micros
	FinalSpent money.Micros
	Adjusted   money.Micros
}

// settleAdjustmentID is the reserved request ID for the usage entry a
// settlement writes when the client's final figure exceeds the
// ledger's. One settlement per lease, so the pair stays unique.
const settleAdjustmentID = "settlement-adjustment"

// closeLease settles an active lease inside the caller's transaction:
// reconciles a higher client-side spend figure as an adjustment entry,
// closes the row, and returns the unspent grant to the agent's pool
// (implicitly, since remaining is derived). clientSpent below the
// ledger's own figure is ignored; the ledger's records win. A negative
// clientSpent means the client offered no figure.
func (l *Ledger) closeLease(conn *sqlite.Conn, lease leaseRow, clientSpent money.Micros, reason string, now int64) (settlementOutcome, error) {
	finalSpent := lease.Spent
	var adjustment money.Micros

	if clientSpent > lease.Spent {
		adjustment = clientSpent - lease.Spent
		if clientSpent > lease.Granted {
			// The grant is the hard cap on what a lease can owe.
			adjustment = lease.Granted - lease.Spent
			l.logger.Warn("settlement clamped to grant",
				"lease_id", lease.LeaseID,
				"client_spent", clientSpent,
				"granted", lease.Granted)
		}
	}

	if adjustment > 0 {
		err := sqlitex.Execute(conn, `
			INSERT INTO usage_entries (lease_id, request_id, agent_id, provider, model, tokens, cost, reported_at)
			VALUES (?, ?, ?, ?, '', 0, ?, ?)
			ON CONFLICT (lease_id, request_id) DO NOTHING`, &sqlitex.ExecOptions{
			Args: []any{lease.LeaseID, settleAdjustmentID, lease.AgentID,
				lease.Provider, int64(adjustment), now},
		})
		if err != nil {
			return settlementOutcome{}, fmt.Errorf("ledger: settlement adjustment for %s: %w", lease.LeaseID, err)
		}

		err = sqlitex.Execute(conn,
			`UPDATE budgets SET spent = spent + ?, updated_at = ? WHERE agent_id = ?`,
			&sqlitex.ExecOptions{Args: []any{int64(adjustment), now, lease.AgentID}})
		if err != nil {
			return settlementOutcome{}, fmt.Errorf("ledger: settlement adjustment for %s: %w", lease.LeaseID, err)
		}
		finalSpent += adjustment
	}

	err := sqlitex.Execute(conn, `
		UPDATE leases SET status = 'closed', close_reason = ?, closed_at = ?, spent = ?
		WHERE lease_id = ? AND status = 'active'`, &sqlitex.ExecOptions{
		Args: []any{reason, now, int64(finalSpent), lease.LeaseID},
	})
	if err != nil {
		return settlementOutcome{}, fmt.Errorf("ledger: close lease %s: %w", lease.LeaseID, err)
	}
	if conn.Changes() == 0 {
		return settlementOutcome{}, fmt.Errorf("lease %s vanished mid-settlement", lease.LeaseID)
	}

	return settlementOutcome{
		Returned:   lease.Granted - finalSpent,
		FinalSpent: finalSpent,
		Adjusted:   adjustment,
	}, nil
}
