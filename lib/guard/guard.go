// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard is the runtime-local budget check on the provider-call
// hot path. It holds the lease figures in two atomics; Check is a pair
// of loads and a compare, no locks and no network. The ledger is the
// authority — the guard only has to be fast and never more permissive
// than the lease it mirrors.
package guard

import (
	"errors"
	"sync/atomic"

	"github.com/bursar-io/bursar/lib/money"
)

// ErrBudgetExceeded means the local lease balance cannot cover the
// estimated cost of the call. The caller stops immediately; whether it
// can continue at all is the refresh arbiter's decision.
var ErrBudgetExceeded = errors.New("guard: budget exceeded")

// DefaultLowWater is the local-balance threshold below which LowWater
// reports true: one currency unit.
const DefaultLowWater = money.PerUnit

// Guard tracks one lease's grant and local spend. Safe for concurrent
// use; the zero value is a guard with nothing granted.
//
// Record may run concurrently with Check, so two calls racing past
// Check can together overshoot the grant by up to one call's cost.
// That slack is bounded by the caller's own estimate and reconciled by
// the ledger; the alternative is a lock on every provider call.
type Guard struct {
	granted  atomic.Int64
	spent    atomic.Int64
	lowWater money.Micros
}

// New creates a guard seeded with a lease grant. lowWater of zero
// means DefaultLowWater.
func New(granted money.Micros, lowWater money.Micros) *Guard {
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	g := &Guard{lowWater: lowWater}
	g.granted.Store(int64(granted))
	return g
}

// Check returns nil when the local balance covers estimate, or
// ErrBudgetExceeded when it does not. A zero or negative estimate
// passes whenever any balance remains: a call the pricing table cannot
// estimate is not blocked, only reconciled after the fact.
func (g *Guard) Check(estimate money.Micros) error {
	remaining := g.granted.Load() - g.spent.Load()
	if estimate <= 0 {
		if remaining <= 0 {
			return ErrBudgetExceeded
		}
		return nil
	}
	if remaining < int64(estimate) {
		return ErrBudgetExceeded
	}
	return nil
}

// Record adds the actual cost of a completed call to the local spend.
// Negative costs are ignored.
func (g *Guard) Record(actual money.Micros) {
	if actual <= 0 {
		return
	}
	g.spent.Add(int64(actual))
}

// Remaining returns the local balance. May be negative when recorded
// spend overshot the grant; Check fails closed in that state.
func (g *Guard) Remaining() money.Micros {
	return money.Micros(g.granted.Load() - g.spent.Load())
}

// Spent returns the locally recorded spend.
func (g *Guard) Spent() money.Micros {
	return money.Micros(g.spent.Load())
}

// Granted returns the current grant.
func (g *Guard) Granted() money.Micros {
	return money.Micros(g.granted.Load())
}

// LowWater reports whether the local balance has dropped below the
// threshold and the session should ask the arbiter for a fresh
// tranche.
func (g *Guard) LowWater() bool {
	return g.granted.Load()-g.spent.Load() < int64(g.lowWater)
}

// Swap replaces the lease figures after a refresh: the new grant
// starts with zero local spend. Returns the spend recorded against
// the old grant, which the session folds into its final accounting.
func (g *Guard) Swap(granted money.Micros) money.Micros {
	old := g.spent.Swap(0)
	g.granted.Store(int64(granted))
	return money.Micros(old)
}
