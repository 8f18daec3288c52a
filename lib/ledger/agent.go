// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/audit"
	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// agentHierarchy derives organization and project from an agent ID:
// the first segment is the organization, the first two joined are the
// project. A single-segment ID is its own organization and project.
func agentHierarchy(agentID string) (organization, project string) {
	segments := strings.Split(agentID, "/")
	organization = segments[0]
	project = organization
	if len(segments) > 1 {
		project = segments[0] + "/" + segments[1]
	}
	return organization, project
}

// Enroll registers an agent, creates its budget, and mints its
// long-lived credential. The credential is returned exactly once;
// losing it means archiving and re-enrolling under a fresh ID. An
// archived ID stays taken, so histories never merge.
func (l *Ledger) Enroll(ctx context.Context, actor string, req *budget.AgentEnroll) (*budget.AgentEnrollResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	organization, project := agentHierarchy(req.AgentID)
	if req.Organization != "" {
		organization = req.Organization
	}
	if req.Project != "" {
		project = req.Project
	}

	credentialID := newCredentialID()
	now := l.clock.Now().Unix()
	credential, err := agenttoken.Mint(l.signingKey, &agenttoken.Token{
		Subject:  req.AgentID,
		Audience: budget.Audience,
		Grants: []agenttoken.Grant{{
			Actions: budget.AgentGrantActions(),
			Agents:  []string{req.AgentID},
		}},
		ID:       credentialID,
		IssuedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: minting credential for %s: %w", req.AgentID, err)
	}

	record := budget.AgentRecord{
		AgentID:      req.AgentID,
		DisplayName:  req.DisplayName,
		Project:      project,
		Organization: organization,
		Status:       budget.AgentActive,
		CredentialID: credentialID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	unlock := l.lockAgent(req.AgentID)
	defer unlock()

	if err := l.enrollTx(ctx, record, req.InitialBudget); err != nil {
		return nil, err
	}

	l.appendAudit(audit.Record{
		Actor:   actor,
		Action:  "agent.enroll",
		AgentID: req.AgentID,
		New:     req.InitialBudget.String(),
		Detail:  "credential " + credentialID,
	})
	l.logger.Info("agent enrolled",
		"agent_id", req.AgentID,
		"project", project,
		"initial_budget", req.InitialBudget,
		"actor", actor)

	return &budget.AgentEnrollResponse{
		Agent:        record,
		Credential:   credential,
		CredentialID: credentialID,
	}, nil
}

func (l *Ledger) enrollTx(ctx context.Context, record budget.AgentRecord, initial money.Micros) (err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ledger: enroll %s: %w", record.AgentID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("ledger: enroll %s: %w", record.AgentID, err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `
		INSERT INTO agents (agent_id, display_name, project, organization, status, credential_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?, ?)
		ON CONFLICT (agent_id) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{record.AgentID, record.DisplayName, record.Project,
			record.Organization, record.CredentialID, record.CreatedAt,
			record.UpdatedAt},
	})
	if err != nil {
		return fmt.Errorf("ledger: enroll %s: %w", record.AgentID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrAgentExists, record.AgentID)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO budgets (agent_id, total, spent, updated_at)
		VALUES (?, ?, 0, ?)`, &sqlitex.ExecOptions{
		Args: []any{record.AgentID, int64(initial), record.CreatedAt},
	})
	if err != nil {
		return fmt.Errorf("ledger: enroll %s: %w", record.AgentID, err)
	}
	return nil
}

// ShowAgent returns one agent with its derived budget statement.
func (l *Ledger) ShowAgent(ctx context.Context, req *budget.AgentShow) (*budget.AgentShowResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: show agent %s: %w", req.AgentID, err)
	}
	defer l.pool.Put(conn)

	record, err := loadAgent(conn, req.AgentID)
	if err != nil {
		return nil, err
	}
	state, err := loadBudgetState(conn, req.AgentID)
	if err != nil {
		return nil, err
	}

	return &budget.AgentShowResponse{
		Agent:  record,
		Budget: *statement(req.AgentID, state),
	}, nil
}

// ListAgents returns agents sorted by ID, optionally filtered by
// project and status.
func (l *Ledger) ListAgents(ctx context.Context, req *budget.AgentList) (*budget.AgentListResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list agents: %w", err)
	}
	defer l.pool.Put(conn)

	query := `SELECT agent_id, display_name, project, organization, status,
	                 credential_id, created_at, updated_at
	          FROM agents WHERE 1=1`
	var args []any
	if req.Project != "" {
		query += ` AND project = ?`
		args = append(args, req.Project)
	}
	if req.Status != "" {
		query += ` AND status = ?`
		args = append(args, req.Status)
	}
	query += ` ORDER BY agent_id`

	agents := []budget.AgentRecord{}
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			agents = append(agents, scanAgent(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: list agents: %w", err)
	}

	return &budget.AgentListResponse{Agents: agents}, nil
}

// Archive retires an agent: the credential is revoked, any active
// lease is settled on the ledger's own figures, and pending change
// requests cascade to cancelled with a system note.
func (l *Ledger) Archive(ctx context.Context, actor string, req *budget.AgentArchive) (*budget.AgentArchiveResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := l.lockAgent(req.AgentID)
	defer unlock()

	response, credentialID, err := l.archiveTx(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	if credentialID != "" && l.revocations != nil {
		l.revocations.Revoke(credentialID)
	}

	l.appendAudit(audit.Record{
		Actor:    actor,
		Action:   "agent.archive",
		AgentID:  req.AgentID,
		LeaseID:  response.SettledLeaseID,
		Previous: budget.AgentActive,
		New:      budget.AgentArchived,
		Detail:   req.Reason,
	})
	l.logger.Info("agent archived",
		"agent_id", req.AgentID,
		"settled_lease", response.SettledLeaseID,
		"cancelled_requests", response.CancelledRequests,
		"actor", actor)

	return response, nil
}

func (l *Ledger) archiveTx(ctx context.Context, agentID string) (response *budget.AgentArchiveResponse, credentialID string, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("ledger: archive %s: %w", agentID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, "", fmt.Errorf("ledger: archive %s: %w", agentID, err)
	}
	defer endTransaction(&err)

	record, err := loadAgent(conn, agentID)
	if err != nil {
		return nil, "", err
	}
	if record.Status == budget.AgentArchived {
		err = fmt.Errorf("%w: %s", ErrAgentArchived, agentID)
		return nil, "", err
	}

	now := l.clock.Now().Unix()
	err = sqlitex.Execute(conn,
		`UPDATE agents SET status = 'archived', updated_at = ? WHERE agent_id = ?`,
		&sqlitex.ExecOptions{Args: []any{now, agentID}})
	if err != nil {
		return nil, "", fmt.Errorf("ledger: archive %s: %w", agentID, err)
	}

	response = &budget.AgentArchiveResponse{AgentID: agentID}

	lease, found, err := activeLease(conn, agentID)
	if err != nil {
		return nil, "", err
	}
	if found {
		var outcome settlementOutcome
		outcome, err = l.closeLease(conn, lease, -1, "archived", now)
		if err != nil {
			return nil, "", l.internalError("archive", err)
		}
		response.SettledLeaseID = lease.LeaseID
		response.Returned = outcome.Returned
	}

	err = sqlitex.Execute(conn, `
		UPDATE change_requests
		SET status = 'cancelled', reviewed_by = 'system',
		    review_notes = 'agent archived', updated_at = ?
		WHERE agent_id = ? AND status = 'pending'`, &sqlitex.ExecOptions{
		Args: []any{now, agentID},
	})
	if err != nil {
		return nil, "", fmt.Errorf("ledger: archive %s: %w", agentID, err)
	}
	response.CancelledRequests = int64(conn.Changes())

	if record.CredentialID != "" {
		err = sqlitex.Execute(conn, `
			INSERT INTO revoked_credentials (credential_id, agent_id, revoked_at)
			VALUES (?, ?, ?)
			ON CONFLICT (credential_id) DO NOTHING`, &sqlitex.ExecOptions{
			Args: []any{record.CredentialID, agentID, now},
		})
		if err != nil {
			return nil, "", fmt.Errorf("ledger: archive %s: %w", agentID, err)
		}
	}

	return response, record.CredentialID, nil
}
