// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/codec"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// --- Budget administration ---

func (d *ledgerDaemon) handleBudgetShow(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.ShowRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := requireGrant(token, budget.ActionBudgetShow, request.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.Statement(ctx, &request)
}

func (d *ledgerDaemon) handleBudgetModify(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.ModifyRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := requireGrant(token, budget.ActionBudgetModify, request.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.Modify(ctx, token.Subject, &request)
}

func (d *ledgerDaemon) handleBudgetHistory(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.HistoryRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := requireGrant(token, budget.ActionBudgetHistory, request.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.History(ctx, &request)
}

// --- Change request workflow ---

func (d *ledgerDaemon) handleRequestCreate(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.RequestCreate
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := requireGrant(token, budget.ActionRequestCreate, request.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.CreateRequest(ctx, token.Subject, &request)
}

// handleRequestShow authorizes against the agent the stored request
// targets, so an agent credential can only read its own requests.
func (d *ledgerDaemon) handleRequestShow(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.RequestShow
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	stored, err := d.ledger.GetRequest(ctx, &request)
	if err != nil {
		return nil, err
	}
	if err := requireGrant(token, budget.ActionRequestShow, stored.AgentID); err != nil {
		return nil, err
	}
	return stored, nil
}

// handleRequestList requires the filter agent to be inside the
// credential's grant scope. Listing without a filter needs an
// unrestricted agent pattern — agent credentials must name themselves.
func (d *ledgerDaemon) handleRequestList(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.RequestList
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	target := request.AgentID
	if target == "" {
		target = "**"
	}
	if err := requireGrant(token, budget.ActionRequestList, target); err != nil {
		return nil, err
	}
	return d.ledger.ListRequests(ctx, &request)
}

func (d *ledgerDaemon) handleRequestApprove(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.RequestApprove
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	stored, err := d.ledger.GetRequest(ctx, &budget.RequestShow{RequestID: request.RequestID})
	if err != nil {
		return nil, err
	}
	if err := requireGrant(token, budget.ActionRequestApprove, stored.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.ApproveRequest(ctx, token.Subject, &request)
}

func (d *ledgerDaemon) handleRequestReject(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.RequestReject
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	stored, err := d.ledger.GetRequest(ctx, &budget.RequestShow{RequestID: request.RequestID})
	if err != nil {
		return nil, err
	}
	if err := requireGrant(token, budget.ActionRequestReject, stored.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.RejectRequest(ctx, token.Subject, &request)
}

func (d *ledgerDaemon) handleRequestCancel(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.RequestCancel
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	stored, err := d.ledger.GetRequest(ctx, &budget.RequestShow{RequestID: request.RequestID})
	if err != nil {
		return nil, err
	}
	if err := requireGrant(token, budget.ActionRequestCancel, stored.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.CancelRequest(ctx, token.Subject, &request)
}

// --- Rollups ---

func (d *ledgerDaemon) handleRollupProjects(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionRollupProjects, ""); err != nil {
		return nil, err
	}
	return d.ledger.RollupProjects(ctx, &budget.RollupRequest{})
}

func (d *ledgerDaemon) handleRollupProviders(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionRollupProviders, ""); err != nil {
		return nil, err
	}
	return d.ledger.RollupProviders(ctx, &budget.RollupRequest{})
}

func (d *ledgerDaemon) handleRollupOrganization(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionRollupOrganization, ""); err != nil {
		return nil, err
	}
	return d.ledger.RollupOrganization(ctx, &budget.RollupRequest{})
}

// --- Provider key vault ---

func (d *ledgerDaemon) handleVaultPut(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionVaultPut, ""); err != nil {
		return nil, err
	}

	var request budget.VaultPut
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	if err := d.keys.PutKey(ctx, &request); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *ledgerDaemon) handleVaultList(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionVaultList, ""); err != nil {
		return nil, err
	}

	var request budget.VaultList
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	keys, err := d.keys.ListKeys(ctx, request.Provider)
	if err != nil {
		return nil, err
	}
	return budget.VaultListResponse{Keys: keys}, nil
}

func (d *ledgerDaemon) handleVaultDisable(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionVaultDisable, ""); err != nil {
		return nil, err
	}

	var request budget.VaultDisable
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	if err := d.keys.DisableKey(ctx, request.KeyID); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- Agent lifecycle ---

func (d *ledgerDaemon) handleAgentEnroll(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.AgentEnroll
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := requireGrant(token, budget.ActionAgentEnroll, request.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.Enroll(ctx, token.Subject, &request)
}

func (d *ledgerDaemon) handleAgentShow(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.AgentShow
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := requireGrant(token, budget.ActionAgentShow, request.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.ShowAgent(ctx, &request)
}

func (d *ledgerDaemon) handleAgentList(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionAgentList, ""); err != nil {
		return nil, err
	}

	var request budget.AgentList
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return d.ledger.ListAgents(ctx, &request)
}

func (d *ledgerDaemon) handleAgentArchive(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	var request budget.AgentArchive
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := requireGrant(token, budget.ActionAgentArchive, request.AgentID); err != nil {
		return nil, err
	}
	return d.ledger.Archive(ctx, token.Subject, &request)
}
