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

// Return settles a lease at the end of a session. The ledger's own
// spend records are authoritative; a client final figure above them is
// first reconciled as a settlement adjustment entry so no spend goes
// missing, and a figure below them is ignored. The unspent grant falls
// back into the agent's remaining. Returning an already-closed lease
// succeeds with Returned zero and changes nothing; closed leases never
// reopen.
func (l *Ledger) Return(ctx context.Context, agentID string, req *budget.ReturnRequest) (*budget.ReturnResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner, err := l.leaseOwner(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if owner != agentID {
		return nil, fmt.Errorf("%w: %s", ErrLeaseNotFound, req.LeaseID)
	}

	unlock := l.lockAgent(agentID)
	defer unlock()

	response, settled, outcome, err := l.settleTx(ctx, agentID, req)
	if err != nil {
		return nil, err
	}

	if settled {
		detail := fmt.Sprintf("returned %s", outcome.Returned)
		if outcome.Adjusted > 0 {
			detail += fmt.Sprintf(", adjustment %s", outcome.Adjusted)
		}
		l.appendAudit(audit.Record{
			Actor:    agentID,
			Action:   "lease.settle",
			AgentID:  agentID,
			LeaseID:  req.LeaseID,
			Previous: budget.LeaseActive,
			New:      budget.LeaseClosed,
			Detail:   detail,
		})
		l.logger.Info("lease settled",
			"agent_id", agentID,
			"lease_id", req.LeaseID,
			"final_spent", outcome.FinalSpent,
			"returned", outcome.Returned,
			"remaining", response.BudgetRemaining)
	}

	return response, nil
}

func (l *Ledger) settleTx(ctx context.Context, agentID string, req *budget.ReturnRequest) (response *budget.ReturnResponse, settled bool, outcome settlementOutcome, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, false, settlementOutcome{}, fmt.Errorf("ledger: return %s: %w", req.LeaseID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, false, settlementOutcome{}, fmt.Errorf("ledger: return %s: %w", req.LeaseID, err)
	}
	defer endTransaction(&err)

	lease, err := loadLease(conn, req.LeaseID)
	if err != nil {
		return nil, false, settlementOutcome{}, err
	}
	if lease.AgentID != agentID {
		err = fmt.Errorf("%w: %s", ErrLeaseNotFound, req.LeaseID)
		return nil, false, settlementOutcome{}, err
	}

	if lease.Status == budget.LeaseClosed {
		state, stateErr := loadBudgetState(conn, agentID)
		if stateErr != nil {
			err = stateErr
			return nil, false, settlementOutcome{}, err
		}
		return &budget.ReturnResponse{
			Returned:        0,
			BudgetRemaining: state.Remaining(),
			LeaseStatus:     budget.LeaseClosed,
		}, false, settlementOutcome{}, nil
	}

	now := l.clock.Now().Unix()
	outcome, err = l.closeLease(conn, lease, req.FinalSpent, "returned", now)
	if err != nil {
		return nil, false, settlementOutcome{}, l.internalError("return", err)
	}

	state, err := loadBudgetState(conn, agentID)
	if err != nil {
		return nil, false, settlementOutcome{}, err
	}

	return &budget.ReturnResponse{
		Returned:        outcome.Returned,
		BudgetRemaining: state.Remaining(),
		LeaseStatus:     budget.LeaseClosed,
	}, true, outcome, nil
}
