// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"fmt"
	"regexp"

	"github.com/bursar-io/bursar/lib/money"
)

// Field limits enforced at the protocol boundary. Server-side state
// never depends on a client honoring these; Validate runs in the
// service handlers before anything touches the ledger.
const (
	// MaxIDLength bounds lease, request, and agent identifiers.
	MaxIDLength = 100

	// MaxProviderLength bounds provider names.
	MaxProviderLength = 50

	// MaxModelLength bounds model names in usage reports.
	MaxModelLength = 100

	// MinJustificationLength and MaxJustificationLength bound the
	// justification on a change request. A request for more budget
	// explains itself or it does not exist.
	MinJustificationLength = 20
	MaxJustificationLength = 500

	// MinReasonLength and MaxReasonLength bound the reason on a
	// direct budget modification.
	MinReasonLength = 10
	MaxReasonLength = 500

	// MaxNotesLength bounds review notes on approval and rejection.
	MaxNotesLength = 500
)

// TrancheCap is the most a single handshake or refresh may request:
// 1000 currency units. A tranche is working capital for one lease, not
// the whole budget.
const TrancheCap = money.Micros(1000) * money.PerUnit

// BudgetCap is the most any budget total may be set or requested to:
// 10,000 currency units. Amounts above it are treated as typos.
const BudgetCap = money.Micros(10_000) * money.PerUnit

// ValidationError reports a request field that failed validation. The
// service maps it to a protocol error without touching the ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(reason, args...)}
}

// agentIDPattern: slash-separated slugs, each starting alphanumeric.
// The hierarchy carries project structure ("acme/billing/triage") and
// is what credential grant patterns match against.
var agentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(/[a-z0-9][a-z0-9_-]*)*$`)

// ValidAgentID checks an agent identifier.
func ValidAgentID(id string) error {
	if id == "" {
		return invalid("agent_id", "must not be empty")
	}
	if len(id) > MaxIDLength {
		return invalid("agent_id", "exceeds %d characters", MaxIDLength)
	}
	if !agentIDPattern.MatchString(id) {
		return invalid("agent_id", "must be lowercase slugs separated by '/'")
	}
	return nil
}

func validLeaseID(id string) error {
	if id == "" {
		return invalid("lease_id", "must not be empty")
	}
	if len(id) > MaxIDLength {
		return invalid("lease_id", "exceeds %d characters", MaxIDLength)
	}
	return nil
}

func validProvider(provider string, required bool) error {
	if provider == "" {
		if required {
			return invalid("provider", "must not be empty")
		}
		return nil
	}
	if len(provider) > MaxProviderLength {
		return invalid("provider", "exceeds %d characters", MaxProviderLength)
	}
	return nil
}
