// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// The canonical session: a 100-unit budget, a 10-unit lease, one
// reconciled call, and a client that reports more spend at settlement
// than ever reached the ledger. The gap lands as an adjustment, the
// unspent grant returns, and the books balance exactly.
func TestReturnReconcilesClientFigure(t *testing.T) {
	tl := newTestLedgerWithKey(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))

	lease := tl.handshake(t, "acme/web/crawler", units(10))
	if lease.BudgetRemaining != units(90) {
		t.Fatalf("remaining after handshake = %s, want %s", lease.BudgetRemaining, units(90))
	}

	tl.report(t, "acme/web/crawler", lease.LeaseID, "req-001", money.Micros(45_700))

	resp, err := tl.Return(ctx, "acme/web/crawler", &budget.ReturnRequest{
		LeaseID:    lease.LeaseID,
		FinalSpent: units(7),
	})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if resp.Returned != units(3) {
		t.Errorf("returned = %s, want %s", resp.Returned, units(3))
	}
	if resp.BudgetRemaining != units(93) {
		t.Errorf("remaining = %s, want %s", resp.BudgetRemaining, units(93))
	}
	if resp.LeaseStatus != budget.LeaseClosed {
		t.Errorf("lease_status = %s, want closed", resp.LeaseStatus)
	}

	st := tl.showStatement(t, "acme/web/crawler")
	if st.Spent != units(7) {
		t.Errorf("spent = %s, want %s", st.Spent, units(7))
	}
	if st.Outstanding != 0 || st.ActiveLeaseID != "" {
		t.Errorf("outstanding = %s, active lease = %q", st.Outstanding, st.ActiveLeaseID)
	}
	if st.Remaining != units(93) {
		t.Errorf("remaining = %s, want %s", st.Remaining, units(93))
	}
	checkInvariant(t, st)
}

// The ledger's records win when the client claims less than was
// reconciled.
func TestReturnServerFigureWins(t *testing.T) {
	tl := newTestLedgerWithKey(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	lease := tl.handshake(t, "acme/web/crawler", units(10))
	tl.report(t, "acme/web/crawler", lease.LeaseID, "req-001", units(2))

	resp, err := tl.Return(context.Background(), "acme/web/crawler", &budget.ReturnRequest{
		LeaseID:    lease.LeaseID,
		FinalSpent: units(1),
	})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if resp.Returned != units(8) {
		t.Errorf("returned = %s, want %s", resp.Returned, units(8))
	}

	st := tl.showStatement(t, "acme/web/crawler")
	if st.Spent != units(2) {
		t.Errorf("spent = %s, want %s", st.Spent, units(2))
	}
}

// The grant is the hard cap on what a lease can owe; a client figure
// above it is clamped.
func TestReturnClampsToGrant(t *testing.T) {
	tl := newTestLedgerWithKey(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	lease := tl.handshake(t, "acme/web/crawler", units(10))
	tl.report(t, "acme/web/crawler", lease.LeaseID, "req-001", units(1))

	resp, err := tl.Return(context.Background(), "acme/web/crawler", &budget.ReturnRequest{
		LeaseID:    lease.LeaseID,
		FinalSpent: units(50),
	})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if resp.Returned != 0 {
		t.Errorf("returned = %s, want 0", resp.Returned)
	}

	st := tl.showStatement(t, "acme/web/crawler")
	if st.Spent != units(10) {
		t.Errorf("spent = %s, want %s", st.Spent, units(10))
	}
	if st.Remaining != units(90) {
		t.Errorf("remaining = %s, want %s", st.Remaining, units(90))
	}
	checkInvariant(t, st)
}

func TestReturnUnspentGrant(t *testing.T) {
	tl := newTestLedgerWithKey(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	lease := tl.handshake(t, "acme/web/crawler", units(10))

	resp, err := tl.Return(context.Background(), "acme/web/crawler", &budget.ReturnRequest{
		LeaseID: lease.LeaseID,
	})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if resp.Returned != units(10) {
		t.Errorf("returned = %s, want the full grant", resp.Returned)
	}
	if resp.BudgetRemaining != units(100) {
		t.Errorf("remaining = %s, want %s", resp.BudgetRemaining, units(100))
	}
}

// Settling twice is safe: the second return reports the closed state
// and changes nothing. Closed leases never reopen.
func TestReturnIdempotent(t *testing.T) {
	tl := newTestLedgerWithKey(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))
	lease := tl.handshake(t, "acme/web/crawler", units(10))
	tl.report(t, "acme/web/crawler", lease.LeaseID, "req-001", units(4))

	first, err := tl.Return(ctx, "acme/web/crawler", &budget.ReturnRequest{
		LeaseID:    lease.LeaseID,
		FinalSpent: units(4),
	})
	if err != nil {
		t.Fatalf("first Return: %v", err)
	}
	if first.Returned != units(6) {
		t.Errorf("first returned = %s, want %s", first.Returned, units(6))
	}

	second, err := tl.Return(ctx, "acme/web/crawler", &budget.ReturnRequest{
		LeaseID:    lease.LeaseID,
		FinalSpent: units(9),
	})
	if err != nil {
		t.Fatalf("second Return: %v", err)
	}
	if second.Returned != 0 {
		t.Errorf("second returned = %s, want 0", second.Returned)
	}
	if second.LeaseStatus != budget.LeaseClosed {
		t.Errorf("lease_status = %s, want closed", second.LeaseStatus)
	}

	// The retry's higher figure did not restate the books.
	st := tl.showStatement(t, "acme/web/crawler")
	if st.Spent != units(4) {
		t.Errorf("spent = %s, want %s", st.Spent, units(4))
	}
	if st.Remaining != units(96) {
		t.Errorf("remaining = %s, want %s", st.Remaining, units(96))
	}
}

func TestReturnWrongAgent(t *testing.T) {
	tl := newTestLedgerWithKey(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	tl.enroll(t, "acme/web/indexer", units(100))
	lease := tl.handshake(t, "acme/web/crawler", units(10))

	_, err := tl.Return(context.Background(), "acme/web/indexer", &budget.ReturnRequest{
		LeaseID: lease.LeaseID,
	})
	if !errors.Is(err, ErrLeaseNotFound) {
		t.Fatalf("err = %v, want ErrLeaseNotFound", err)
	}
}

func TestReturnValidation(t *testing.T) {
	tl := newTestLedgerWithKey(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	lease := tl.handshake(t, "acme/web/crawler", units(10))

	_, err := tl.Return(context.Background(), "acme/web/crawler", &budget.ReturnRequest{
		LeaseID:    lease.LeaseID,
		FinalSpent: -1,
	})
	var verr *budget.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
}
