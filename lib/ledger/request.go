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

// defaultRequestLimit bounds ListRequests when Limit is zero.
const defaultRequestLimit = 50

// CreateRequest opens a change request for more budget. The request
// path is increase-only: the requested amount must exceed the agent's
// total at creation time, which is recorded as the snapshot the
// reviewer sees.
func (l *Ledger) CreateRequest(ctx context.Context, requester string, req *budget.RequestCreate) (*budget.ChangeRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := l.lockAgent(req.AgentID)
	defer unlock()

	request, err := l.createRequestTx(ctx, requester, req)
	if err != nil {
		return nil, err
	}

	l.appendAudit(audit.Record{
		Actor:     requester,
		Action:    "request.create",
		AgentID:   req.AgentID,
		RequestID: request.ID,
		Previous:  request.SnapshotBudget.String(),
		New:       request.RequestedBudget.String(),
		Detail:    req.Justification,
	})
	l.logger.Info("change request created",
		"request_id", request.ID,
		"agent_id", req.AgentID,
		"requested", req.RequestedBudget,
		"requester", requester)

	return request, nil
}

func (l *Ledger) createRequestTx(ctx context.Context, requester string, req *budget.RequestCreate) (request *budget.ChangeRequest, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: create request: %w", err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("ledger: create request: %w", err)
	}
	defer endTransaction(&err)

	record, err := loadAgent(conn, req.AgentID)
	if err != nil {
		return nil, err
	}
	if record.Status != budget.AgentActive {
		err = fmt.Errorf("%w: %s", ErrAgentArchived, req.AgentID)
		return nil, err
	}

	state, err := loadBudgetState(conn, req.AgentID)
	if err != nil {
		return nil, err
	}
	if req.RequestedBudget <= state.Total {
		err = &budget.ValidationError{
			Field:  "requested_budget",
			Reason: fmt.Sprintf("must exceed current total of %s", state.Total),
		}
		return nil, err
	}

	now := l.clock.Now().Unix()
	request = &budget.ChangeRequest{
		ID:              newRequestID(),
		AgentID:         req.AgentID,
		Requester:       requester,
		SnapshotBudget:  state.Total,
		RequestedBudget: req.RequestedBudget,
		Justification:   req.Justification,
		Status:          budget.RequestPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO change_requests (request_id, agent_id, requester, snapshot_budget, requested_budget, justification, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{request.ID, req.AgentID, requester,
			int64(state.Total), int64(req.RequestedBudget),
			req.Justification, now, now},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: create request: %w", err)
	}
	return request, nil
}

// GetRequest fetches one change request.
func (l *Ledger) GetRequest(ctx context.Context, req *budget.RequestShow) (*budget.ChangeRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: get request %s: %w", req.RequestID, err)
	}
	defer l.pool.Put(conn)

	return loadRequest(conn, req.RequestID)
}

// ListRequests lists change requests newest first, optionally filtered
// by agent and status.
func (l *Ledger) ListRequests(ctx context.Context, req *budget.RequestList) (*budget.RequestListResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultRequestLimit
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list requests: %w", err)
	}
	defer l.pool.Put(conn)

	query := `SELECT ` + requestColumns + ` FROM change_requests WHERE 1=1`
	var args []any
	if req.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, req.AgentID)
	}
	if req.Status != "" {
		query += ` AND status = ?`
		args = append(args, req.Status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	requests := []budget.ChangeRequest{}
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			requests = append(requests, scanRequest(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: list requests: %w", err)
	}

	return &budget.RequestListResponse{Requests: requests}, nil
}

// ApproveRequest approves a pending change request and applies the
// linked budget increase in the same transaction. The approved amount
// (the requested amount unless overridden) must exceed the agent's
// live total, not the possibly stale snapshot; staleness is resolved
// here, at decision time. A concurrent decision on the same request
// leaves the loser with ErrRequestStateConflict and no second
// mutation.
func (l *Ledger) ApproveRequest(ctx context.Context, reviewer string, req *budget.RequestApprove) (*budget.ChangeRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	agentID, err := l.requestAgent(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	unlock := l.lockAgent(agentID)
	defer unlock()

	request, modification, err := l.approveTx(ctx, reviewer, req)
	if err != nil {
		return nil, err
	}

	l.auditModification(modification)
	l.appendAudit(audit.Record{
		Actor:     reviewer,
		Action:    "request.approve",
		AgentID:   request.AgentID,
		RequestID: request.ID,
		Previous:  budget.RequestPending,
		New:       budget.RequestApproved,
		Detail:    fmt.Sprintf("approved %s, modification %s", request.ApprovedBudget, request.ModificationID),
	})
	l.logger.Info("change request approved",
		"request_id", request.ID,
		"agent_id", request.AgentID,
		"approved", request.ApprovedBudget,
		"reviewer", reviewer)

	return request, nil
}

func (l *Ledger) approveTx(ctx context.Context, reviewer string, req *budget.RequestApprove) (request *budget.ChangeRequest, modification budget.Modification, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, budget.Modification{}, fmt.Errorf("ledger: approve %s: %w", req.RequestID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, budget.Modification{}, fmt.Errorf("ledger: approve %s: %w", req.RequestID, err)
	}
	defer endTransaction(&err)

	request, err = loadRequest(conn, req.RequestID)
	if err != nil {
		return nil, budget.Modification{}, err
	}
	if request.Status != budget.RequestPending {
		err = fmt.Errorf("%w: %s is %s", ErrRequestStateConflict, req.RequestID, request.Status)
		return nil, budget.Modification{}, err
	}

	target := req.ApprovedBudget
	if target == 0 {
		target = request.RequestedBudget
	}

	state, err := loadBudgetState(conn, request.AgentID)
	if err != nil {
		return nil, budget.Modification{}, err
	}
	if target <= state.Total {
		err = &budget.ValidationError{
			Field: "approved_budget",
			Reason: fmt.Sprintf("must exceed current total of %s; the request snapshot of %s is stale",
				state.Total, request.SnapshotBudget),
		}
		return nil, budget.Modification{}, err
	}

	now := l.clock.Now().Unix()
	modification, _, err = l.applyModification(conn, request.AgentID, target, false,
		"approved change request "+request.ID, reviewer, request.ID, now)
	if err != nil {
		return nil, budget.Modification{}, err
	}

	// The rows-affected guard is what serializes racing decisions:
	// whoever flips the row out of pending first wins, everyone else
	// rolls back here.
	err = sqlitex.Execute(conn, `
		UPDATE change_requests
		SET status = 'approved', reviewed_by = ?, review_notes = ?,
		    approved_budget = ?, modification_id = ?, updated_at = ?
		WHERE request_id = ? AND status = 'pending'`, &sqlitex.ExecOptions{
		Args: []any{reviewer, req.Notes, int64(target), modification.ID,
			now, req.RequestID},
	})
	if err != nil {
		return nil, budget.Modification{}, fmt.Errorf("ledger: approve %s: %w", req.RequestID, err)
	}
	if conn.Changes() == 0 {
		err = fmt.Errorf("%w: %s", ErrRequestStateConflict, req.RequestID)
		return nil, budget.Modification{}, err
	}

	request.Status = budget.RequestApproved
	request.ReviewedBy = reviewer
	request.ReviewNotes = req.Notes
	request.ApprovedBudget = target
	request.ModificationID = modification.ID
	request.UpdatedAt = now
	return request, modification, nil
}

// RejectRequest rejects a pending change request. The notes are the
// reviewer's reason and are required by validation; nothing else in
// the ledger changes.
func (l *Ledger) RejectRequest(ctx context.Context, reviewer string, req *budget.RequestReject) (*budget.ChangeRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	agentID, err := l.requestAgent(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	unlock := l.lockAgent(agentID)
	defer unlock()

	request, err := l.decideRequestTx(ctx, req.RequestID, budget.RequestRejected, reviewer, req.Notes)
	if err != nil {
		return nil, err
	}

	l.appendAudit(audit.Record{
		Actor:     reviewer,
		Action:    "request.reject",
		AgentID:   request.AgentID,
		RequestID: request.ID,
		Previous:  budget.RequestPending,
		New:       budget.RequestRejected,
		Detail:    req.Notes,
	})
	l.logger.Info("change request rejected",
		"request_id", request.ID,
		"agent_id", request.AgentID,
		"reviewer", reviewer)

	return request, nil
}

// CancelRequest withdraws a pending change request. The requester may
// cancel their own request; so may any actor other than the agent the
// request targets, which in practice means an operator whose grant
// already cleared the service boundary. The agent itself cannot
// withdraw a request someone else filed on its behalf.
func (l *Ledger) CancelRequest(ctx context.Context, actor string, req *budget.RequestCancel) (*budget.ChangeRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	agentID, err := l.requestAgent(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}

	unlock := l.lockAgent(agentID)
	defer unlock()

	current, err := l.getRequestLocked(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if actor != current.Requester && actor == current.AgentID {
		return nil, &budget.ValidationError{
			Field:  "request_id",
			Reason: fmt.Sprintf("filed by %s; only the requester or an operator may cancel", current.Requester),
		}
	}

	request, err := l.decideRequestTx(ctx, req.RequestID, budget.RequestCancelled, actor, req.Reason)
	if err != nil {
		return nil, err
	}

	l.appendAudit(audit.Record{
		Actor:     actor,
		Action:    "request.cancel",
		AgentID:   request.AgentID,
		RequestID: request.ID,
		Previous:  budget.RequestPending,
		New:       budget.RequestCancelled,
		Detail:    req.Reason,
	})
	l.logger.Info("change request cancelled",
		"request_id", request.ID,
		"agent_id", request.AgentID,
		"actor", actor)

	return request, nil
}

// decideRequestTx flips a pending request to a terminal status. The
// rows-affected check on the guarded UPDATE is the race arbiter.
func (l *Ledger) decideRequestTx(ctx context.Context, requestID, status, reviewedBy, notes string) (request *budget.ChangeRequest, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: decide request %s: %w", requestID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("ledger: decide request %s: %w", requestID, err)
	}
	defer endTransaction(&err)

	now := l.clock.Now().Unix()
	err = sqlitex.Execute(conn, `
		UPDATE change_requests
		SET status = ?, reviewed_by = ?, review_notes = ?, updated_at = ?
		WHERE request_id = ? AND status = 'pending'`, &sqlitex.ExecOptions{
		Args: []any{status, reviewedBy, notes, now, requestID},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: decide request %s: %w", requestID, err)
	}
	if conn.Changes() == 0 {
		err = fmt.Errorf("%w: %s", ErrRequestStateConflict, requestID)
		return nil, err
	}

	return loadRequest(conn, requestID)
}

// requestAgent resolves a change request to its agent without locking;
// the pair is immutable.
func (l *Ledger) requestAgent(ctx context.Context, requestID string) (string, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger: request agent %s: %w", requestID, err)
	}
	defer l.pool.Put(conn)

	request, err := loadRequest(conn, requestID)
	if err != nil {
		return "", err
	}
	return request.AgentID, nil
}

// getRequestLocked re-reads a request under the caller's stripe lock.
func (l *Ledger) getRequestLocked(ctx context.Context, requestID string) (*budget.ChangeRequest, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: get request %s: %w", requestID, err)
	}
	defer l.pool.Put(conn)

	return loadRequest(conn, requestID)
}

const requestColumns = `request_id, agent_id, requester, snapshot_budget,
	requested_budget, justification, status, reviewed_by, review_notes,
	approved_budget, modification_id, created_at, updated_at`

func scanRequest(stmt *sqlite.Stmt) budget.ChangeRequest {
	return budget.ChangeRequest{
		ID:              stmt.ColumnText(0),
		AgentID:         stmt.ColumnText(1),
		Requester:       stmt.ColumnText(2),
		SnapshotBudget:  money.Micros(stmt.ColumnInt64(3)),
		RequestedBudget: money.Micros(stmt.ColumnInt64(4)),
		Justification:   stmt.ColumnText(5),
		Status:          stmt.ColumnText(6),
		ReviewedBy:      stmt.ColumnText(7),
		ReviewNotes:     stmt.ColumnText(8),
		ApprovedBudget:  money.Micros(stmt.ColumnInt64(9)),
		ModificationID:  stmt.ColumnText(10),
		CreatedAt:       stmt.ColumnInt64(11),
		UpdatedAt:       stmt.ColumnInt64(12),
	}
}

// loadRequest reads one change request row.
func loadRequest(conn *sqlite.Conn, requestID string) (*budget.ChangeRequest, error) {
	var request *budget.ChangeRequest
	err := sqlitex.Execute(conn,
		`SELECT `+requestColumns+` FROM change_requests WHERE request_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{requestID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row := scanRequest(stmt)
				request = &row
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("ledger: load request %s: %w", requestID, err)
	}
	if request == nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	return request, nil
}
