// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/ledger"
	"github.com/bursar-io/bursar/lib/pricing"
	"github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/service"
	"github.com/bursar-io/bursar/lib/vault"
	"github.com/bursar-io/bursar/lib/version"
)

// ledgerDaemon binds the ledger to the socket API.
type ledgerDaemon struct {
	ledger    *ledger.Ledger
	keys      *vault.Store
	recipient string
	pricing   *pricing.Table
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// registerActions wires every socket action. "status" is the only
// unauthenticated action; everything else needs a verified credential
// whose grants cover the action, and targeted actions additionally
// the agent in question.
func (d *ledgerDaemon) registerActions(server *service.SocketServer) {
	server.Handle(budget.ActionStatus, d.handleStatus)
	server.HandleAuth(budget.ActionInfo, d.handleInfo)

	// Lease protocol: always pinned to the credential's subject. An
	// agent operates its own leases and nobody else's.
	server.HandleAuth(budget.ActionHandshake, d.handleHandshake)
	server.HandleAuth(budget.ActionReport, d.handleReport)
	server.HandleAuth(budget.ActionRefresh, d.handleRefresh)
	server.HandleAuth(budget.ActionReturn, d.handleReturn)

	// Budget administration.
	server.HandleAuth(budget.ActionBudgetShow, d.handleBudgetShow)
	server.HandleAuth(budget.ActionBudgetModify, d.handleBudgetModify)
	server.HandleAuth(budget.ActionBudgetHistory, d.handleBudgetHistory)

	// Change request workflow.
	server.HandleAuth(budget.ActionRequestCreate, d.handleRequestCreate)
	server.HandleAuth(budget.ActionRequestShow, d.handleRequestShow)
	server.HandleAuth(budget.ActionRequestList, d.handleRequestList)
	server.HandleAuth(budget.ActionRequestApprove, d.handleRequestApprove)
	server.HandleAuth(budget.ActionRequestReject, d.handleRequestReject)
	server.HandleAuth(budget.ActionRequestCancel, d.handleRequestCancel)

	// Rollups.
	server.HandleAuth(budget.ActionRollupProjects, d.handleRollupProjects)
	server.HandleAuth(budget.ActionRollupProviders, d.handleRollupProviders)
	server.HandleAuth(budget.ActionRollupOrganization, d.handleRollupOrganization)

	// Provider key vault.
	server.HandleAuth(budget.ActionVaultPut, d.handleVaultPut)
	server.HandleAuth(budget.ActionVaultList, d.handleVaultList)
	server.HandleAuth(budget.ActionVaultDisable, d.handleVaultDisable)

	// Agent lifecycle.
	server.HandleAuth(budget.ActionAgentEnroll, d.handleAgentEnroll)
	server.HandleAuth(budget.ActionAgentShow, d.handleAgentShow)
	server.HandleAuth(budget.ActionAgentList, d.handleAgentList)
	server.HandleAuth(budget.ActionAgentArchive, d.handleAgentArchive)
}

// requireGrant checks the credential covers an action against a
// target agent. An empty agentID checks the action patterns alone,
// for actions with no per-agent target.
func requireGrant(token *agenttoken.Token, action, agentID string) error {
	if !agenttoken.GrantsAllow(token.Grants, action, agentID) {
		return fmt.Errorf("access denied: missing grant for %s", action)
	}
	return nil
}

// handleStatus is the unauthenticated liveness probe. It reveals
// nothing beyond uptime and version.
func (d *ledgerDaemon) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return budget.StatusResponse{
		UptimeSeconds: int64(d.clock.Now().Sub(d.startedAt).Seconds()),
		Version:       version.Short(),
	}, nil
}

// handleInfo returns service internals, including the vault recipient
// the CLI needs to seal provider keys.
func (d *ledgerDaemon) handleInfo(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionInfo, ""); err != nil {
		return nil, err
	}

	stats, err := d.ledger.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return budget.InfoResponse{
		UptimeSeconds:  int64(d.clock.Now().Sub(d.startedAt).Seconds()),
		Version:        version.Short(),
		Agents:         stats.Agents,
		ActiveLeases:   stats.ActiveLeases,
		PricingModels:  int64(len(d.pricing.Models())),
		VaultRecipient: d.recipient,
	}, nil
}
