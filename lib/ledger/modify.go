// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/audit"
	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// defaultHistoryLimit bounds History when the request leaves Limit
// zero.
const defaultHistoryLimit = 50

// Statement returns an agent's derived budget position.
func (l *Ledger) Statement(ctx context.Context, req *budget.ShowRequest) (*budget.Statement, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: statement %s: %w", req.AgentID, err)
	}
	defer l.pool.Put(conn)

	state, err := loadBudgetState(conn, req.AgentID)
	if err != nil {
		return nil, err
	}
	return statement(req.AgentID, state), nil
}

// Modify sets an agent's total budget. This is the single gateway for
// both the direct admin path and request approval. Increases apply
// unconditionally. Decreases without Force are refused with a
// DecreaseRefused carrying the impact preview; forced decreases still
// may not take the total below spent plus outstanding, since remaining
// must never go negative. Setting the current value is refused with
// ErrBudgetUnchanged.
func (l *Ledger) Modify(ctx context.Context, actor string, req *budget.ModifyRequest) (*budget.ModifyResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := l.lockAgent(req.AgentID)
	defer unlock()

	modification, state, err := l.modifyTx(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	l.auditModification(modification)
	l.logger.Info("budget modified",
		"agent_id", req.AgentID,
		"previous", modification.PreviousBudget,
		"new", modification.NewBudget,
		"forced", req.Force,
		"actor", actor)

	return &budget.ModifyResponse{
		ModificationID: modification.ID,
		AgentID:        req.AgentID,
		PreviousBudget: modification.PreviousBudget,
		NewBudget:      modification.NewBudget,
		Remaining:      state.Remaining(),
	}, nil
}

func (l *Ledger) modifyTx(ctx context.Context, actor string, req *budget.ModifyRequest) (modification budget.Modification, state budgetState, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return budget.Modification{}, budgetState{}, fmt.Errorf("ledger: modify %s: %w", req.AgentID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return budget.Modification{}, budgetState{}, fmt.Errorf("ledger: modify %s: %w", req.AgentID, err)
	}
	defer endTransaction(&err)

	record, err := loadAgent(conn, req.AgentID)
	if err != nil {
		return budget.Modification{}, budgetState{}, err
	}
	if record.Status != budget.AgentActive {
		err = fmt.Errorf("%w: %s", ErrAgentArchived, req.AgentID)
		return budget.Modification{}, budgetState{}, err
	}

	now := l.clock.Now().Unix()
	modification, state, err = l.applyModification(conn, req.AgentID, req.NewBudget, req.Force, req.Reason, actor, "", now)
	if err != nil {
		return budget.Modification{}, budgetState{}, err
	}
	return modification, state, nil
}

// applyModification changes the total inside the caller's transaction
// and appends the modification record. The returned state reflects the
// new total. requestID links an approval-driven modification to its
// change request; the direct path passes it empty.
func (l *Ledger) applyModification(conn *sqlite.Conn, agentID string, newTotal money.Micros, force bool, reason, actor, requestID string, now int64) (budget.Modification, budgetState, error) {
	state, err := loadBudgetState(conn, agentID)
	if err != nil {
		return budget.Modification{}, budgetState{}, err
	}

	if newTotal == state.Total {
		return budget.Modification{}, budgetState{}, fmt.Errorf("%w: total is already %s", ErrBudgetUnchanged, state.Total)
	}

	kind := budget.ModificationIncrease
	if newTotal < state.Total {
		kind = budget.ModificationDecrease
		floor := state.Spent + state.Outstanding

		if !force {
			return budget.Modification{}, budgetState{}, &DecreaseRefused{
				Impact: budget.DecreaseImpact{
					CurrentTotal: state.Total,
					CurrentSpent: state.Spent,
					Outstanding:  state.Outstanding,
					NewRemaining: newTotal - state.Spent - state.Outstanding,
					Floor:        floor,
				},
			}
		}
		if newTotal < floor {
			return budget.Modification{}, budgetState{}, &budget.ValidationError{
				Field: "new_budget",
				Reason: fmt.Sprintf("below floor of %s (%s spent + %s outstanding)",
					floor, state.Spent, state.Outstanding),
			}
		}
	}

	err = sqlitex.Execute(conn,
		`UPDATE budgets SET total = ?, updated_at = ? WHERE agent_id = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(newTotal), now, agentID}})
	if err != nil {
		return budget.Modification{}, budgetState{}, fmt.Errorf("ledger: modify %s: %w", agentID, err)
	}

	modification := budget.Modification{
		ID:             newModificationID(),
		AgentID:        agentID,
		Kind:           kind,
		PreviousBudget: state.Total,
		NewBudget:      newTotal,
		Reason:         reason,
		Actor:          actor,
		RequestID:      requestID,
		CreatedAt:      now,
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO modifications (modification_id, agent_id, kind, previous_budget, new_budget, reason, actor, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{modification.ID, agentID, kind,
			int64(modification.PreviousBudget), int64(newTotal),
			reason, actor, requestID, now},
	})
	if err != nil {
		return budget.Modification{}, budgetState{}, fmt.Errorf("ledger: modify %s: %w", agentID, err)
	}

	state.Total = newTotal
	state.UpdatedAt = now
	return modification, state, nil
}

// auditModification appends the trail record for one applied
// modification, from either path.
func (l *Ledger) auditModification(modification budget.Modification) {
	l.appendAudit(audit.Record{
		Actor:     modification.Actor,
		Action:    "budget.modify",
		AgentID:   modification.AgentID,
		RequestID: modification.RequestID,
		Previous:  modification.PreviousBudget.String(),
		New:       modification.NewBudget.String(),
		Detail:    modification.Reason,
	})
}

// History lists an agent's budget modifications, newest first.
func (l *Ledger) History(ctx context.Context, req *budget.HistoryRequest) (*budget.HistoryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: history %s: %w", req.AgentID, err)
	}
	defer l.pool.Put(conn)

	if _, err := loadAgent(conn, req.AgentID); err != nil {
		return nil, err
	}

	modifications := []budget.Modification{}
	err = sqlitex.Execute(conn, `
		SELECT modification_id, agent_id, kind, previous_budget, new_budget, reason, actor, request_id, created_at
		FROM modifications WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{req.AgentID, limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			modifications = append(modifications, budget.Modification{
				ID:             stmt.ColumnText(0),
				AgentID:        stmt.ColumnText(1),
				Kind:           stmt.ColumnText(2),
				PreviousBudget: money.Micros(stmt.ColumnInt64(3)),
				NewBudget:      money.Micros(stmt.ColumnInt64(4)),
				Reason:         stmt.ColumnText(5),
				Actor:          stmt.ColumnText(6),
				RequestID:      stmt.ColumnText(7),
				CreatedAt:      stmt.ColumnInt64(8),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: history %s: %w", req.AgentID, err)
	}

	return &budget.HistoryResponse{Modifications: modifications}, nil
}
