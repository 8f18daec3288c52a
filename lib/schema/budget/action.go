// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budget

// Authorization action constants for the ledger service, enforced via
// credential grant verification. Agent credentials carry the lease
// namespace plus the self-service request actions; everything else is
// operator territory.

// Lease protocol operations (agent runtimes).
const (
	ActionHandshake = "lease/handshake"
	ActionReport    = "lease/report"
	ActionRefresh   = "lease/refresh"
	ActionReturn    = "lease/return"
)

// Budget administration.
const (
	ActionBudgetShow    = "budget/show"
	ActionBudgetModify  = "budget/modify"
	ActionBudgetHistory = "budget/history"
)

// Change request workflow.
const (
	ActionRequestCreate  = "request/create"
	ActionRequestShow    = "request/show"
	ActionRequestList    = "request/list"
	ActionRequestApprove = "request/approve"
	ActionRequestReject  = "request/reject"
	ActionRequestCancel  = "request/cancel"
)

// Read-only aggregations.
const (
	ActionRollupProjects     = "rollup/projects"
	ActionRollupProviders    = "rollup/providers"
	ActionRollupOrganization = "rollup/organization"
)

// Provider key vault administration.
const (
	ActionVaultPut     = "vault/put"
	ActionVaultList    = "vault/list"
	ActionVaultDisable = "vault/disable"
)

// Agent lifecycle.
const (
	ActionAgentEnroll  = "agent/enroll"
	ActionAgentShow    = "agent/show"
	ActionAgentList    = "agent/list"
	ActionAgentArchive = "agent/archive"
)

// Status is the unauthenticated liveness probe; Info is its
// authenticated companion with service internals.
const (
	ActionStatus = "status"
	ActionInfo   = "info"
)

// Audience is the credential audience the ledger service mints and
// verifies. A credential scoped to another service never passes here.
const Audience = "bursar-ledger"

// Wildcard patterns for grants.
const (
	ActionAllLease   = "lease/**"
	ActionAllBudget  = "budget/**"
	ActionAllRequest = "request/**"
	ActionAllRollup  = "rollup/**"
	ActionAllVault   = "vault/**"
	ActionAllAgent   = "agent/**"
	ActionAll        = "**"
)

// AgentGrantActions is the action set minted into an agent credential
// at enrollment: the full lease protocol plus the self-service side of
// the change-request workflow. Approval, rejection, budget
// modification, and everything else stays with operators.
func AgentGrantActions() []string {
	return []string{
		ActionAllLease,
		ActionRequestCreate,
		ActionRequestShow,
		ActionRequestList,
		ActionRequestCancel,
	}
}
