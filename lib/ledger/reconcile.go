// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/audit"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// ReportUsage reconciles one provider call against a lease. The
// (lease_id, request_id) pair is the idempotency key: a replay is
// acknowledged with Duplicate set and charges nothing. Reports against
// closed leases are rejected terminally with ErrLeaseClosed; the
// client drops them rather than retrying. A report that would push the
// lease past its grant is rejected with ErrBudgetExceeded and leaves
// the ledger untouched.
//
// Reports raise the agent's spent and the lease's spent together, so
// the agent's remaining is unchanged until settlement returns the
// unspent grant.
func (l *Ledger) ReportUsage(ctx context.Context, agentID string, report *budget.UsageReport) (*budget.UsageAck, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	// The lease to agent binding is immutable, so this unlocked read
	// is only for picking the stripe; the transaction re-reads.
	owner, err := l.leaseOwner(ctx, report.LeaseID)
	if err != nil {
		return nil, err
	}
	if owner != agentID {
		return nil, fmt.Errorf("%w: %s", ErrLeaseNotFound, report.LeaseID)
	}

	unlock := l.lockAgent(agentID)
	defer unlock()

	ack, err := l.reportTx(ctx, agentID, report)
	if err != nil {
		return nil, err
	}

	if !ack.Duplicate {
		l.appendAudit(audit.Record{
			Actor:     agentID,
			Action:    "lease.report",
			AgentID:   agentID,
			LeaseID:   report.LeaseID,
			RequestID: report.RequestID,
			New:       report.Cost.String(),
			Detail:    fmt.Sprintf("%d tokens, model %s", report.Tokens, report.Model),
		})
	}

	return ack, nil
}

// leaseOwner resolves a lease to its agent without locking.
func (l *Ledger) leaseOwner(ctx context.Context, leaseID string) (string, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger: lease owner %s: %w", leaseID, err)
	}
	defer l.pool.Put(conn)

	lease, err := loadLease(conn, leaseID)
	if err != nil {
		return "", err
	}
	return lease.AgentID, nil
}

func (l *Ledger) reportTx(ctx context.Context, agentID string, report *budget.UsageReport) (ack *budget.UsageAck, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: report %s: %w", report.RequestID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("ledger: report %s: %w", report.RequestID, err)
	}
	defer endTransaction(&err)

	lease, err := loadLease(conn, report.LeaseID)
	if err != nil {
		return nil, err
	}
	if lease.AgentID != agentID {
		err = fmt.Errorf("%w: %s", ErrLeaseNotFound, report.LeaseID)
		return nil, err
	}
	if lease.Status != budget.LeaseActive {
		err = fmt.Errorf("%w: %s", ErrLeaseClosed, report.LeaseID)
		return nil, err
	}

	now := l.clock.Now().Unix()
	var clientTime any
	if report.Timestamp != 0 {
		clientTime = report.Timestamp
	}
	provider := report.Provider
	if provider == "" {
		provider = lease.Provider
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO usage_entries (lease_id, request_id, agent_id, provider, model, tokens, cost, reported_at, client_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (lease_id, request_id) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{report.LeaseID, report.RequestID, agentID,
			provider, report.Model, report.Tokens,
			int64(report.Cost), now, clientTime},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: report %s: %w", report.RequestID, err)
	}

	if conn.Changes() == 0 {
		// Replay: the ack carries the ledger as it stands, not a
		// reconstruction of the original ack. Only Duplicate and the
		// charge-nothing guarantee are stable across retries; remaining
		// reflects whatever else has settled since.
		state, stateErr := loadBudgetState(conn, agentID)
		if stateErr != nil {
			err = stateErr
			return nil, err
		}
		return &budget.UsageAck{
			Duplicate:       true,
			BudgetLimit:     lease.Granted,
			LeaseSpent:      lease.Spent,
			BudgetRemaining: state.Remaining(),
		}, nil
	}

	newSpent := lease.Spent + report.Cost
	if newSpent > lease.Granted {
		err = fmt.Errorf("%w: lease %s spent %s + %s exceeds grant %s",
			ErrBudgetExceeded, report.LeaseID, lease.Spent, report.Cost, lease.Granted)
		return nil, err
	}

	err = sqlitex.Execute(conn,
		`UPDATE leases SET spent = ? WHERE lease_id = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(newSpent), report.LeaseID}})
	if err != nil {
		return nil, fmt.Errorf("ledger: report %s: %w", report.RequestID, err)
	}

	err = sqlitex.Execute(conn,
		`UPDATE budgets SET spent = spent + ?, updated_at = ? WHERE agent_id = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(report.Cost), now, agentID}})
	if err != nil {
		return nil, fmt.Errorf("ledger: report %s: %w", report.RequestID, err)
	}

	state, err := loadBudgetState(conn, agentID)
	if err != nil {
		return nil, err
	}

	return &budget.UsageAck{
		BudgetLimit:     lease.Granted,
		LeaseSpent:      newSpent,
		BudgetRemaining: state.Remaining(),
	}, nil
}
