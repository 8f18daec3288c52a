// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/audit"
	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// refreshOutcome is what the refresh transaction decides.
type refreshOutcome struct {
	Denied     bool
	Granted    money.Micros
	Remaining  money.Micros
	Superseded settlementOutcome
}

// Refresh replaces a nearly exhausted lease with a fresh tranche.
// All or nothing: the new tranche is granted in full iff the total
// budget covers spent plus requested, otherwise the refresh is denied,
// the old lease stays active, and the agent is expected to finish its
// current work and settle.
//
// On denial the returned response still carries the reason and the
// remaining figure, and err is ErrRefreshDenied; callers that treat
// denial as a normal protocol outcome check for it the way they would
// check io.EOF. On approval the old lease is settled as superseded and
// the response describes the replacement, including a freshly sealed
// secret under the provider's current key.
func (l *Ledger) Refresh(ctx context.Context, agentID string, req *budget.RefreshRequest) (*budget.RefreshResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner, provider, err := l.leaseProvider(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if owner != agentID {
		return nil, fmt.Errorf("%w: %s", ErrLeaseNotFound, req.LeaseID)
	}

	unlock := l.lockAgent(agentID)
	defer unlock()

	// Refresh always reseals under the provider's newest enabled key,
	// so key rotation takes effect one tranche at a time.
	leaseID := newLeaseID()
	secret, err := l.issueSecret(ctx, provider, "", leaseID)
	if err != nil {
		return nil, err
	}

	requested := req.RequestedBudget
	if requested == 0 {
		requested = l.defaultTranche
	}

	outcome, err := l.refreshTx(ctx, agentID, req.LeaseID, leaseID, provider, secret.KeyID, requested)
	if err != nil {
		return nil, err
	}

	if outcome.Denied {
		l.logger.Info("refresh denied",
			"agent_id", agentID,
			"lease_id", req.LeaseID,
			"requested", requested,
			"remaining", outcome.Remaining)
		return &budget.RefreshResponse{
			Status:          budget.RefreshDenied,
			Reason:          budget.DenialExhausted,
			BudgetRemaining: outcome.Remaining,
		}, ErrRefreshDenied
	}

	l.appendAudit(audit.Record{
		Actor:    agentID,
		Action:   "lease.settle",
		AgentID:  agentID,
		LeaseID:  req.LeaseID,
		Previous: budget.LeaseActive,
		New:      budget.LeaseClosed,
		Detail:   fmt.Sprintf("superseded, returned %s", outcome.Superseded.Returned),
	})
	l.appendAudit(audit.Record{
		Actor:   agentID,
		Action:  "lease.refresh",
		AgentID: agentID,
		LeaseID: leaseID,
		New:     outcome.Granted.String(),
		Detail:  "supersedes " + req.LeaseID,
	})
	l.logger.Info("lease refreshed",
		"agent_id", agentID,
		"old_lease", req.LeaseID,
		"lease_id", leaseID,
		"granted", outcome.Granted,
		"remaining", outcome.Remaining)

	return &budget.RefreshResponse{
		Status:          budget.RefreshApproved,
		LeaseID:         leaseID,
		BudgetGranted:   outcome.Granted,
		BudgetRemaining: outcome.Remaining,
		KeyID:           secret.KeyID,
		EncryptedSecret: secret.EncryptedSecret,
		LeaseKey:        secret.LeaseKey,
	}, nil
}

// leaseProvider resolves a lease to its agent and provider without
// locking. Both are immutable once the lease exists.
func (l *Ledger) leaseProvider(ctx context.Context, leaseID string) (agentID, provider string, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return "", "", fmt.Errorf("ledger: lease provider %s: %w", leaseID, err)
	}
	defer l.pool.Put(conn)

	lease, err := loadLease(conn, leaseID)
	if err != nil {
		return "", "", err
	}
	return lease.AgentID, lease.Provider, nil
}

func (l *Ledger) refreshTx(ctx context.Context, agentID, oldLeaseID, leaseID, provider, keyID string, requested money.Micros) (outcome refreshOutcome, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return refreshOutcome{}, fmt.Errorf("ledger: refresh %s: %w", oldLeaseID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return refreshOutcome{}, fmt.Errorf("ledger: refresh %s: %w", oldLeaseID, err)
	}
	defer endTransaction(&err)

	old, err := loadLease(conn, oldLeaseID)
	if err != nil {
		return refreshOutcome{}, err
	}
	if old.AgentID != agentID {
		err = fmt.Errorf("%w: %s", ErrLeaseNotFound, oldLeaseID)
		return refreshOutcome{}, err
	}
	if old.Status != budget.LeaseActive {
		err = fmt.Errorf("%w: %s", ErrLeaseClosed, oldLeaseID)
		return refreshOutcome{}, err
	}

	state, err := loadBudgetState(conn, agentID)
	if err != nil {
		return refreshOutcome{}, err
	}

	// The check ignores the old lease's unspent grant: on approval it
	// is settled and returns anyway. No partial grants here; an agent
	// that cannot get the full tranche winds down instead.
	if state.Spent+requested > state.Total {
		outcome.Denied = true
		outcome.Remaining = state.Remaining()
		return outcome, nil
	}

	now := l.clock.Now().Unix()
	outcome.Superseded, err = l.closeLease(conn, old, -1, "superseded", now)
	if err != nil {
		return refreshOutcome{}, l.internalError("refresh", err)
	}

	err = insertLease(conn, leaseRow{
		LeaseID:   leaseID,
		AgentID:   agentID,
		Provider:  provider,
		KeyID:     keyID,
		Granted:   requested,
		CreatedAt: now,
	})
	if err != nil {
		return refreshOutcome{}, err
	}

	outcome.Granted = requested
	outcome.Remaining = state.Total - state.Spent - requested
	return outcome, nil
}
