// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"github.com/bursar-io/bursar/lib/money"
)

// Agent status values.
const (
	AgentActive   = "active"
	AgentArchived = "archived"
)

// Change request status values. Pending is the only non-terminal
// state; approved, rejected, and cancelled requests never change
// again.
const (
	RequestPending   = "pending"
	RequestApproved  = "approved"
	RequestRejected  = "rejected"
	RequestCancelled = "cancelled"
)

// Modification kind values as recorded in budget history.
const (
	ModificationIncrease = "increase"
	ModificationDecrease = "decrease"
)

// Statement is the derived view of one agent's budget. Remaining is
// computed as total minus spent minus outstanding; it is never stored.
// Outstanding is the sum of unspent grant across active leases.
type Statement struct {
	AgentID       string       `cbor:"agent_id"`
	Total         money.Micros `cbor:"total"`
	Spent         money.Micros `cbor:"spent"`
	Outstanding   money.Micros `cbor:"outstanding"`
	Remaining     money.Micros `cbor:"remaining"`
	ActiveLeaseID string       `cbor:"active_lease_id,omitempty"`
	UpdatedAt     int64        `cbor:"updated_at"`
}

// ShowRequest fetches an agent's budget statement.
type ShowRequest struct {
	AgentID string `cbor:"agent_id"`
}

func (r *ShowRequest) Validate() error {
	return ValidAgentID(r.AgentID)
}

// ModifyRequest changes an agent's total budget. Increases apply
// unconditionally; decreases are refused without Force so the caller
// sees the impact before shrinking a budget that may already be
// partly spent or leased out.
type ModifyRequest struct {
	AgentID   string       `cbor:"agent_id"`
	NewBudget money.Micros `cbor:"new_budget"`
	Force     bool         `cbor:"force,omitempty"`
	Reason    string       `cbor:"reason"`
}

func (r *ModifyRequest) Validate() error {
	if err := ValidAgentID(r.AgentID); err != nil {
		return err
	}
	if r.NewBudget < 0 {
		return invalid("new_budget", "must not be negative")
	}
	if r.NewBudget > BudgetCap {
		return invalid("new_budget", "exceeds budget cap of %s", BudgetCap)
	}
	if len(r.Reason) < MinReasonLength {
		return invalid("reason", "must be at least %d characters", MinReasonLength)
	}
	if len(r.Reason) > MaxReasonLength {
		return invalid("reason", "exceeds %d characters", MaxReasonLength)
	}
	return nil
}

// ModifyResponse reports an applied modification.
type ModifyResponse struct {
	ModificationID string       `cbor:"modification_id"`
	AgentID        string       `cbor:"agent_id"`
	PreviousBudget money.Micros `cbor:"previous_budget"`
	NewBudget      money.Micros `cbor:"new_budget"`
	Remaining      money.Micros `cbor:"remaining"`
}

// DecreaseImpact accompanies a refused decrease: the figures an
// operator needs to decide whether to force it. Floor is the lowest
// total a forced decrease may set, spent plus outstanding.
type DecreaseImpact struct {
	CurrentTotal money.Micros `cbor:"current_total"`
	CurrentSpent money.Micros `cbor:"current_spent"`
	Outstanding  money.Micros `cbor:"outstanding"`
	NewRemaining money.Micros `cbor:"new_remaining_if_applied"`
	Floor        money.Micros `cbor:"floor"`
}

// Modification is one budget history entry.
type Modification struct {
	ID             string       `cbor:"id"`
	AgentID        string       `cbor:"agent_id"`
	Kind           string       `cbor:"kind"`
	PreviousBudget money.Micros `cbor:"previous_budget"`
	NewBudget      money.Micros `cbor:"new_budget"`
	Reason         string       `cbor:"reason"`
	Actor          string       `cbor:"actor"`
	RequestID      string       `cbor:"request_id,omitempty"`
	CreatedAt      int64        `cbor:"created_at"`
}

// HistoryRequest fetches budget modifications for an agent, newest
// first. Limit zero means the server default.
type HistoryRequest struct {
	AgentID string `cbor:"agent_id"`
	Limit   int64  `cbor:"limit,omitempty"`
}

func (r *HistoryRequest) Validate() error {
	if err := ValidAgentID(r.AgentID); err != nil {
		return err
	}
	if r.Limit < 0 {
		return invalid("limit", "must not be negative")
	}
	return nil
}

// HistoryResponse lists budget modifications.
type HistoryResponse struct {
	Modifications []Modification `cbor:"modifications"`
}

// RequestCreate opens a change request for more budget. Requests are
// increase-only: RequestedBudget must exceed the agent's total at
// creation time, and the justification is mandatory.
type RequestCreate struct {
	AgentID         string       `cbor:"agent_id"`
	RequestedBudget money.Micros `cbor:"requested_budget"`
	Justification   string       `cbor:"justification"`
}

func (r *RequestCreate) Validate() error {
	if err := ValidAgentID(r.AgentID); err != nil {
		return err
	}
	if r.RequestedBudget <= 0 {
		return invalid("requested_budget", "must be positive")
	}
	if r.RequestedBudget > BudgetCap {
		return invalid("requested_budget", "exceeds budget cap of %s", BudgetCap)
	}
	if len(r.Justification) < MinJustificationLength {
		return invalid("justification", "must be at least %d characters", MinJustificationLength)
	}
	if len(r.Justification) > MaxJustificationLength {
		return invalid("justification", "exceeds %d characters", MaxJustificationLength)
	}
	return nil
}

// ChangeRequest is the full change-request record. SnapshotBudget is
// the agent's total at creation time; approval compares the approved
// amount against the live total, not the snapshot.
type ChangeRequest struct {
	ID              string       `cbor:"id"`
	AgentID         string       `cbor:"agent_id"`
	Requester       string       `cbor:"requester"`
	SnapshotBudget  money.Micros `cbor:"snapshot_budget"`
	RequestedBudget money.Micros `cbor:"requested_budget"`
	Justification   string       `cbor:"justification"`
	Status          string       `cbor:"status"`
	ReviewedBy      string       `cbor:"reviewed_by,omitempty"`
	ReviewNotes     string       `cbor:"review_notes,omitempty"`
	ApprovedBudget  money.Micros `cbor:"approved_budget,omitempty"`
	ModificationID  string       `cbor:"modification_id,omitempty"`
	CreatedAt       int64        `cbor:"created_at"`
	UpdatedAt       int64        `cbor:"updated_at"`
}

// RequestShow fetches one change request by ID.
type RequestShow struct {
	RequestID string `cbor:"request_id"`
}

func (r *RequestShow) Validate() error {
	if r.RequestID == "" {
		return invalid("request_id", "must not be empty")
	}
	if len(r.RequestID) > MaxIDLength {
		return invalid("request_id", "exceeds %d characters", MaxIDLength)
	}
	return nil
}

// RequestList fetches change requests, newest first, optionally
// filtered by agent and status.
type RequestList struct {
	AgentID string `cbor:"agent_id,omitempty"`
	Status  string `cbor:"status,omitempty"`
	Limit   int64  `cbor:"limit,omitempty"`
}

func (r *RequestList) Validate() error {
	if r.AgentID != "" {
		if err := ValidAgentID(r.AgentID); err != nil {
			return err
		}
	}
	switch r.Status {
	case "", RequestPending, RequestApproved, RequestRejected, RequestCancelled:
	default:
		return invalid("status", "unknown status %q", r.Status)
	}
	if r.Limit < 0 {
		return invalid("limit", "must not be negative")
	}
	return nil
}

// RequestApprove approves a pending change request. ApprovedBudget
// zero grants the requested amount; a nonzero value overrides it,
// still subject to the increase-only rule against the live budget.
type RequestApprove struct {
	RequestID      string       `cbor:"request_id"`
	ApprovedBudget money.Micros `cbor:"approved_budget,omitempty"`
	Notes          string       `cbor:"notes,omitempty"`
}

func (r *RequestApprove) Validate() error {
	if r.RequestID == "" {
		return invalid("request_id", "must not be empty")
	}
	if r.ApprovedBudget < 0 {
		return invalid("approved_budget", "must not be negative")
	}
	if r.ApprovedBudget > BudgetCap {
		return invalid("approved_budget", "exceeds budget cap of %s", BudgetCap)
	}
	if len(r.Notes) > MaxNotesLength {
		return invalid("notes", "exceeds %d characters", MaxNotesLength)
	}
	return nil
}

// RequestReject rejects a pending change request. Notes are required:
// a rejection without a reason helps nobody.
type RequestReject struct {
	RequestID string `cbor:"request_id"`
	Notes     string `cbor:"notes"`
}

func (r *RequestReject) Validate() error {
	if r.RequestID == "" {
		return invalid("request_id", "must not be empty")
	}
	if r.Notes == "" {
		return invalid("notes", "must not be empty")
	}
	if len(r.Notes) > MaxNotesLength {
		return invalid("notes", "exceeds %d characters", MaxNotesLength)
	}
	return nil
}

// RequestCancel withdraws a pending change request.
type RequestCancel struct {
	RequestID string `cbor:"request_id"`
	Reason    string `cbor:"reason,omitempty"`
}

func (r *RequestCancel) Validate() error {
	if r.RequestID == "" {
		return invalid("request_id", "must not be empty")
	}
	if len(r.Reason) > MaxNotesLength {
		return invalid("reason", "exceeds %d characters", MaxNotesLength)
	}
	return nil
}

// RequestListResponse lists change requests.
type RequestListResponse struct {
	Requests []ChangeRequest `cbor:"requests"`
}

// VaultPut stores a provider key. SealedKey is the key material
// age-sealed to the service's vault recipient by the caller, so the
// plaintext never crosses the socket; MaskedHint is the caller-side
// mask shown in listings.
type VaultPut struct {
	Provider   string `cbor:"provider"`
	KeyID      string `cbor:"key_id"`
	SealedKey  string `cbor:"sealed_key"`
	MaskedHint string `cbor:"masked_hint"`
}

func (r *VaultPut) Validate() error {
	if err := validProvider(r.Provider, true); err != nil {
		return err
	}
	if r.KeyID == "" {
		return invalid("key_id", "must not be empty")
	}
	if len(r.KeyID) > MaxIDLength {
		return invalid("key_id", "exceeds %d characters", MaxIDLength)
	}
	if r.SealedKey == "" {
		return invalid("sealed_key", "must not be empty")
	}
	if len(r.MaskedHint) > MaxIDLength {
		return invalid("masked_hint", "exceeds %d characters", MaxIDLength)
	}
	return nil
}

// VaultKey is one provider key as surfaced in listings. The key
// material itself never appears; MaskedHint is all anyone sees.
type VaultKey struct {
	KeyID      string `cbor:"key_id"`
	Provider   string `cbor:"provider"`
	MaskedHint string `cbor:"masked_hint"`
	Enabled    bool   `cbor:"enabled"`
	CreatedAt  int64  `cbor:"created_at"`
	LastUsedAt int64  `cbor:"last_used_at,omitempty"`
}

// VaultList fetches provider keys, optionally filtered by provider.
type VaultList struct {
	Provider string `cbor:"provider,omitempty"`
}

func (r *VaultList) Validate() error {
	return validProvider(r.Provider, false)
}

// VaultListResponse lists provider keys.
type VaultListResponse struct {
	Keys []VaultKey `cbor:"keys"`
}

// VaultDisable retires a provider key. Existing leases keep their
// sealed copies; new handshakes stop selecting it.
type VaultDisable struct {
	KeyID string `cbor:"key_id"`
}

func (r *VaultDisable) Validate() error {
	if r.KeyID == "" {
		return invalid("key_id", "must not be empty")
	}
	if len(r.KeyID) > MaxIDLength {
		return invalid("key_id", "exceeds %d characters", MaxIDLength)
	}
	return nil
}

// AgentEnroll registers an agent with an initial budget. Project and
// organization are taken from the agent ID hierarchy when empty.
type AgentEnroll struct {
	AgentID       string       `cbor:"agent_id"`
	DisplayName   string       `cbor:"display_name,omitempty"`
	Project       string       `cbor:"project,omitempty"`
	Organization  string       `cbor:"organization,omitempty"`
	InitialBudget money.Micros `cbor:"initial_budget"`
}

func (r *AgentEnroll) Validate() error {
	if err := ValidAgentID(r.AgentID); err != nil {
		return err
	}
	if r.InitialBudget < 0 {
		return invalid("initial_budget", "must not be negative")
	}
	if r.InitialBudget > BudgetCap {
		return invalid("initial_budget", "exceeds budget cap of %s", BudgetCap)
	}
	if len(r.DisplayName) > MaxIDLength {
		return invalid("display_name", "exceeds %d characters", MaxIDLength)
	}
	return nil
}

// AgentEnrollResponse returns the enrolled agent and its signed
// credential. The credential is minted once at enrollment; losing it
// means re-enrolling.
type AgentEnrollResponse struct {
	Agent        AgentRecord `cbor:"agent"`
	Credential   []byte      `cbor:"credential"`
	CredentialID string      `cbor:"credential_id"`
}

// AgentRecord is one agent as surfaced in listings and lookups.
type AgentRecord struct {
	AgentID      string `cbor:"agent_id"`
	DisplayName  string `cbor:"display_name,omitempty"`
	Project      string `cbor:"project"`
	Organization string `cbor:"organization"`
	Status       string `cbor:"status"`
	CredentialID string `cbor:"credential_id,omitempty"`
	CreatedAt    int64  `cbor:"created_at"`
	UpdatedAt    int64  `cbor:"updated_at"`
}

// AgentShow fetches one agent with its budget statement.
type AgentShow struct {
	AgentID string `cbor:"agent_id"`
}

func (r *AgentShow) Validate() error {
	return ValidAgentID(r.AgentID)
}

// AgentShowResponse pairs an agent record with its derived budget.
type AgentShowResponse struct {
	Agent  AgentRecord `cbor:"agent"`
	Budget Statement   `cbor:"budget"`
}

// AgentList fetches agents, optionally filtered by project and status.
type AgentList struct {
	Project string `cbor:"project,omitempty"`
	Status  string `cbor:"status,omitempty"`
}

func (r *AgentList) Validate() error {
	switch r.Status {
	case "", AgentActive, AgentArchived:
	default:
		return invalid("status", "unknown status %q", r.Status)
	}
	return nil
}

// AgentListResponse lists agents.
type AgentListResponse struct {
	Agents []AgentRecord `cbor:"agents"`
}

// AgentArchive retires an agent: its active lease is settled, pending
// change requests are cancelled, and its credential stops minting new
// leases.
type AgentArchive struct {
	AgentID string `cbor:"agent_id"`
	Reason  string `cbor:"reason,omitempty"`
}

func (r *AgentArchive) Validate() error {
	if err := ValidAgentID(r.AgentID); err != nil {
		return err
	}
	if len(r.Reason) > MaxNotesLength {
		return invalid("reason", "exceeds %d characters", MaxNotesLength)
	}
	return nil
}

// AgentArchiveResponse reports the archive cascade.
type AgentArchiveResponse struct {
	AgentID           string       `cbor:"agent_id"`
	SettledLeaseID    string       `cbor:"settled_lease_id,omitempty"`
	Returned          money.Micros `cbor:"returned,omitempty"`
	CancelledRequests int64        `cbor:"cancelled_requests"`
}

// RollupRow is one aggregation row: a project, a provider, or the
// whole organization. Budget columns are zero for provider rollups,
// which aggregate usage entries rather than agent budgets.
type RollupRow struct {
	Key         string       `cbor:"key"`
	AgentCount  int64        `cbor:"agent_count,omitempty"`
	TotalBudget money.Micros `cbor:"total_budget,omitempty"`
	TotalSpent  money.Micros `cbor:"total_spent"`
	Outstanding money.Micros `cbor:"outstanding,omitempty"`
	Remaining   money.Micros `cbor:"remaining,omitempty"`
	Tokens      int64        `cbor:"tokens"`
	Requests    int64        `cbor:"requests"`
}

// RollupRequest fetches an aggregation. The action selects the
// grouping; Project optionally narrows provider rollups.
type RollupRequest struct {
	Project string `cbor:"project,omitempty"`
}

func (r *RollupRequest) Validate() error { return nil }

// RollupResponse lists aggregation rows.
type RollupResponse struct {
	Rows []RollupRow `cbor:"rows"`
}
