// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"fmt"

	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// Sentinel errors for expected operational states. Everything here is
// a condition the caller can act on; internal invariant violations are
// logged and returned as opaque internal errors instead.
var (
	// ErrHandshakeFailed rejects a handshake whose subject is not an
	// enrolled, active agent. The credential itself was already
	// verified at the socket boundary.
	ErrHandshakeFailed = errors.New("ledger: handshake failed")

	// ErrBudgetExhausted denies a handshake when the agent has no
	// remaining budget to lease against.
	ErrBudgetExhausted = errors.New("ledger: budget exhausted")

	// ErrBudgetExceeded rejects a usage report that would push a
	// lease's spend past its grant.
	ErrBudgetExceeded = errors.New("ledger: budget exceeded")

	// ErrRefreshDenied is returned alongside the denial response when
	// the total budget cannot cover a requested tranche.
	ErrRefreshDenied = errors.New("ledger: refresh denied")

	// ErrDecreaseRequiresConfirmation rejects an unforced budget
	// decrease. The wrapping DecreaseRefused carries the impact.
	ErrDecreaseRequiresConfirmation = errors.New("ledger: decrease requires confirmation")

	// ErrBudgetUnchanged rejects a modification that would set the
	// total to its current value.
	ErrBudgetUnchanged = errors.New("ledger: budget unchanged")

	// ErrRequestStateConflict means a change request was decided by a
	// concurrent actor; the caller should re-fetch.
	ErrRequestStateConflict = errors.New("ledger: request already decided")

	// ErrRequestNotFound means no change request has the given ID.
	ErrRequestNotFound = errors.New("ledger: request not found")

	// ErrLeaseNotFound means no lease has the given ID, or the caller
	// is not the agent it belongs to.
	ErrLeaseNotFound = errors.New("ledger: lease not found")

	// ErrLeaseClosed rejects an operation that needs an active lease.
	ErrLeaseClosed = errors.New("ledger: lease closed")

	// ErrAgentNotFound means no agent has the given ID.
	ErrAgentNotFound = errors.New("ledger: agent not found")

	// ErrAgentExists rejects enrolling an agent ID twice.
	ErrAgentExists = errors.New("ledger: agent already enrolled")

	// ErrAgentArchived rejects mutations against an archived agent.
	ErrAgentArchived = errors.New("ledger: agent archived")
)

// errInternal is what callers see when the ledger detects its own
// invariants broken. The detail stays in the log.
var errInternal = errors.New("ledger: internal error")

// DecreaseRefused carries the impact preview for a decrease submitted
// without force. Unwraps to ErrDecreaseRequiresConfirmation.
type DecreaseRefused struct {
	Impact budget.DecreaseImpact
}

func (e *DecreaseRefused) Error() string {
	return fmt.Sprintf("ledger: decrease requires confirmation: %s spent, %s outstanding, remaining would be %s",
		e.Impact.CurrentSpent, e.Impact.Outstanding, e.Impact.NewRemaining)
}

func (e *DecreaseRefused) Unwrap() error { return ErrDecreaseRequiresConfirmation }

// exhausted wraps ErrBudgetExhausted with the figure the caller needs
// to explain the denial.
func exhausted(remaining money.Micros) error {
	return fmt.Errorf("%w: %s remaining", ErrBudgetExhausted, remaining)
}
