// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package budget defines the wire messages and validation rules for the
// bursar ledger protocol: lease handshakes, usage reports, refreshes,
// settlement, budget modification, and the change-request workflow.
// All messages travel as CBOR over the service socket with snake_case
// field names. Monetary amounts are money.Micros throughout.
package budget

import (
	"github.com/bursar-io/bursar/lib/money"
)

// Lease status values as stored in the ledger and surfaced in
// settlement responses.
const (
	LeaseActive = "active"
	LeaseClosed = "closed"
)

// Refresh outcome values.
const (
	RefreshApproved = "approved"
	RefreshDenied   = "denied"
)

// DenialExhausted is the refresh denial reason when the agent's total
// budget cannot cover the requested tranche on top of what is already
// spent. There is no partial grant on refresh: the agent either gets
// the tranche it asked for or a signal to wind down.
const DenialExhausted = "total_budget_exhausted"

// HandshakeRequest opens a lease. RequestedBudget zero means "use the
// configured default tranche". KeyID optionally pins a specific
// provider key; empty selects the newest enabled key for the provider.
type HandshakeRequest struct {
	RequestedBudget money.Micros `cbor:"requested_budget,omitempty"`
	Provider        string       `cbor:"provider"`
	KeyID           string       `cbor:"key_id,omitempty"`
	RuntimeVersion  string       `cbor:"runtime_version,omitempty"`
	RuntimeID       string       `cbor:"runtime_id,omitempty"`
}

func (r *HandshakeRequest) Validate() error {
	if err := validProvider(r.Provider, true); err != nil {
		return err
	}
	if r.RequestedBudget < 0 {
		return invalid("requested_budget", "must not be negative")
	}
	if r.RequestedBudget > TrancheCap {
		return invalid("requested_budget", "exceeds tranche cap of %s", TrancheCap)
	}
	if len(r.KeyID) > MaxIDLength {
		return invalid("key_id", "exceeds %d characters", MaxIDLength)
	}
	return nil
}

// HandshakeResponse returns the opened lease. EncryptedSecret is the
// provider key sealed to this lease; LeaseKey is the key material the
// client needs to open it. BudgetRemaining is the agent's remaining
// budget after the grant was carved out.
type HandshakeResponse struct {
	LeaseID         string       `cbor:"lease_id"`
	BudgetGranted   money.Micros `cbor:"budget_granted"`
	BudgetRemaining money.Micros `cbor:"budget_remaining"`
	Provider        string       `cbor:"provider"`
	KeyID           string       `cbor:"key_id"`
	EncryptedSecret []byte       `cbor:"encrypted_secret"`
	LeaseKey        []byte       `cbor:"lease_key"`
}

// UsageReport records one provider API call against a lease. RequestID
// is the client-generated idempotency key: reporting the same
// (lease_id, request_id) twice is acknowledged without double-charging.
// Timestamp is the client clock in unix milliseconds, recorded for
// audit but never trusted for ordering.
type UsageReport struct {
	LeaseID   string       `cbor:"lease_id"`
	RequestID string       `cbor:"request_id"`
	Tokens    int64        `cbor:"tokens"`
	Cost      money.Micros `cbor:"cost"`
	Model     string       `cbor:"model"`
	Provider  string       `cbor:"provider,omitempty"`
	Timestamp int64        `cbor:"timestamp,omitempty"`
}

func (r *UsageReport) Validate() error {
	if err := validLeaseID(r.LeaseID); err != nil {
		return err
	}
	if r.RequestID == "" {
		return invalid("request_id", "must not be empty")
	}
	if len(r.RequestID) > MaxIDLength {
		return invalid("request_id", "exceeds %d characters", MaxIDLength)
	}
	if r.Tokens <= 0 {
		return invalid("tokens", "must be positive")
	}
	if r.Cost < 0 {
		return invalid("cost", "must not be negative")
	}
	if r.Model == "" {
		return invalid("model", "must not be empty")
	}
	if len(r.Model) > MaxModelLength {
		return invalid("model", "exceeds %d characters", MaxModelLength)
	}
	return validProvider(r.Provider, false)
}

// UsageAck acknowledges a usage report. Duplicate is set when the
// report had already been recorded under the same request ID; the
// figures then reflect the ledger as it stood, not a second charge.
// BudgetLimit is the lease grant, LeaseSpent the spend recorded
// against it, BudgetRemaining the agent's remaining budget.
type UsageAck struct {
	Duplicate       bool         `cbor:"duplicate,omitempty"`
	BudgetLimit     money.Micros `cbor:"budget_limit"`
	LeaseSpent      money.Micros `cbor:"lease_spent"`
	BudgetRemaining money.Micros `cbor:"budget_remaining"`
}

// RefreshRequest asks for a fresh tranche when the current lease is
// nearly exhausted. The old lease is settled and superseded on
// approval; the response carries the replacement lease.
type RefreshRequest struct {
	LeaseID         string       `cbor:"lease_id"`
	RequestedBudget money.Micros `cbor:"requested_budget,omitempty"`
}

func (r *RefreshRequest) Validate() error {
	if err := validLeaseID(r.LeaseID); err != nil {
		return err
	}
	if r.RequestedBudget < 0 {
		return invalid("requested_budget", "must not be negative")
	}
	if r.RequestedBudget > TrancheCap {
		return invalid("requested_budget", "exceeds tranche cap of %s", TrancheCap)
	}
	return nil
}

// RefreshResponse carries the arbiter's decision. On approval the
// lease fields describe the replacement lease. On denial Reason says
// why and BudgetRemaining what is left; the caller is expected to
// finish its current work and settle.
type RefreshResponse struct {
	Status          string       `cbor:"status"`
	Reason          string       `cbor:"reason,omitempty"`
	LeaseID         string       `cbor:"lease_id,omitempty"`
	BudgetGranted   money.Micros `cbor:"budget_granted,omitempty"`
	BudgetRemaining money.Micros `cbor:"budget_remaining"`
	KeyID           string       `cbor:"key_id,omitempty"`
	EncryptedSecret []byte       `cbor:"encrypted_secret,omitempty"`
	LeaseKey        []byte       `cbor:"lease_key,omitempty"`
}

// ReturnRequest settles a lease at the end of a session. FinalSpent is
// the client's view of its own spend; the ledger's records win when
// they disagree, except that a higher client figure is first applied
// as a settlement adjustment so no spend is lost.
type ReturnRequest struct {
	LeaseID    string       `cbor:"lease_id"`
	FinalSpent money.Micros `cbor:"final_spent"`
}

func (r *ReturnRequest) Validate() error {
	if err := validLeaseID(r.LeaseID); err != nil {
		return err
	}
	if r.FinalSpent < 0 {
		return invalid("final_spent", "must not be negative")
	}
	return nil
}

// ReturnResponse reports the settlement. Returned is the unspent part
// of the grant folded back into the agent's budget. Settling an
// already-closed lease succeeds with Returned zero.
type ReturnResponse struct {
	Returned        money.Micros `cbor:"returned"`
	BudgetRemaining money.Micros `cbor:"budget_remaining"`
	LeaseStatus     string       `cbor:"lease_status"`
}

// StatusResponse answers the unauthenticated status action.
type StatusResponse struct {
	UptimeSeconds int64  `cbor:"uptime_seconds"`
	Version       string `cbor:"version,omitempty"`
}

// InfoResponse answers the authenticated info action. VaultRecipient
// is the service's age public key; the CLI seals provider keys to it
// so plaintext never crosses the socket.
type InfoResponse struct {
	UptimeSeconds  int64  `cbor:"uptime_seconds"`
	Version        string `cbor:"version,omitempty"`
	Agents         int64  `cbor:"agents"`
	ActiveLeases   int64  `cbor:"active_leases"`
	PricingModels  int64  `cbor:"pricing_models"`
	VaultRecipient string `cbor:"vault_recipient"`
}
