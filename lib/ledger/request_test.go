// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

const testJustification = "the crawl queue doubled this sprint"

func (tl *testLedger) createRequest(t *testing.T, requester, agentID string, requested money.Micros) *budget.ChangeRequest {
	t.Helper()
	request, err := tl.CreateRequest(context.Background(), requester, &budget.RequestCreate{
		AgentID:         agentID,
		RequestedBudget: requested,
		Justification:   testJustification,
	})
	if err != nil {
		t.Fatalf("CreateRequest(%s): %v", agentID, err)
	}
	return request
}

func TestCreateRequest(t *testing.T) {
	tl := newTestLedger(t)
	tl.enroll(t, "acme/web/crawler", units(100))

	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))

	if !strings.HasPrefix(request.ID, "breq-") {
		t.Errorf("request ID = %s", request.ID)
	}
	if request.Status != budget.RequestPending {
		t.Errorf("status = %s, want pending", request.Status)
	}
	if request.SnapshotBudget != units(100) {
		t.Errorf("snapshot = %s, want %s", request.SnapshotBudget, units(100))
	}
	if request.RequestedBudget != units(200) {
		t.Errorf("requested = %s, want %s", request.RequestedBudget, units(200))
	}
	if request.Requester != "acme/web/crawler" {
		t.Errorf("requester = %s", request.Requester)
	}

	fetched, err := tl.GetRequest(context.Background(), &budget.RequestShow{RequestID: request.ID})
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if *fetched != *request {
		t.Errorf("fetched = %+v, want %+v", fetched, request)
	}
}

// Requests are increase-only against the total at creation time.
func TestCreateRequestNotAboveTotal(t *testing.T) {
	tl := newTestLedger(t)
	tl.enroll(t, "acme/web/crawler", units(100))

	for _, requested := range []money.Micros{units(100), units(50)} {
		_, err := tl.CreateRequest(context.Background(), "acme/web/crawler", &budget.RequestCreate{
			AgentID:         "acme/web/crawler",
			RequestedBudget: requested,
			Justification:   testJustification,
		})
		var verr *budget.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("CreateRequest(%s) err = %v, want validation error", requested, err)
		}
		if verr.Field != "requested_budget" {
			t.Errorf("field = %s, want requested_budget", verr.Field)
		}
	}
}

func TestCreateRequestArchivedAgent(t *testing.T) {
	tl := newTestLedger(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	if _, err := tl.Archive(context.Background(), "operator", &budget.AgentArchive{
		AgentID: "acme/web/crawler",
	}); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	_, err := tl.CreateRequest(context.Background(), "acme/web/crawler", &budget.RequestCreate{
		AgentID:         "acme/web/crawler",
		RequestedBudget: units(200),
		Justification:   testJustification,
	})
	if !errors.Is(err, ErrAgentArchived) {
		t.Fatalf("err = %v, want ErrAgentArchived", err)
	}
}

func TestApproveRequest(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))
	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))

	approved, err := tl.ApproveRequest(ctx, "operator", &budget.RequestApprove{
		RequestID: request.ID,
		Notes:     "fits the quarter",
	})
	if err != nil {
		t.Fatalf("ApproveRequest: %v", err)
	}
	if approved.Status != budget.RequestApproved {
		t.Errorf("status = %s, want approved", approved.Status)
	}
	if approved.ApprovedBudget != units(200) {
		t.Errorf("approved = %s, want the requested amount", approved.ApprovedBudget)
	}
	if approved.ReviewedBy != "operator" || approved.ReviewNotes != "fits the quarter" {
		t.Errorf("review = %s / %q", approved.ReviewedBy, approved.ReviewNotes)
	}
	if approved.ModificationID == "" {
		t.Error("no linked modification")
	}

	st := tl.showStatement(t, "acme/web/crawler")
	if st.Total != units(200) {
		t.Errorf("total = %s, want %s", st.Total, units(200))
	}

	// The linked modification carries the request ID both ways.
	history, err := tl.History(ctx, &budget.HistoryRequest{AgentID: "acme/web/crawler"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history.Modifications) != 1 {
		t.Fatalf("history has %d entries", len(history.Modifications))
	}
	entry := history.Modifications[0]
	if entry.ID != approved.ModificationID {
		t.Errorf("modification ID = %s, want %s", entry.ID, approved.ModificationID)
	}
	if entry.RequestID != request.ID {
		t.Errorf("modification request_id = %s, want %s", entry.RequestID, request.ID)
	}
	if entry.Actor != "operator" {
		t.Errorf("modification actor = %s", entry.Actor)
	}
}

func TestApproveOverrideAmount(t *testing.T) {
	tl := newTestLedger(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))

	approved, err := tl.ApproveRequest(context.Background(), "operator", &budget.RequestApprove{
		RequestID:      request.ID,
		ApprovedBudget: units(150),
	})
	if err != nil {
		t.Fatalf("ApproveRequest: %v", err)
	}
	if approved.ApprovedBudget != units(150) {
		t.Errorf("approved = %s, want %s", approved.ApprovedBudget, units(150))
	}

	st := tl.showStatement(t, "acme/web/crawler")
	if st.Total != units(150) {
		t.Errorf("total = %s, want %s", st.Total, units(150))
	}
}

// Approval checks against the live total, not the creation-time
// snapshot; a raise that landed in between can make the request
// stale. The failed approval leaves the request pending for a
// corrected decision.
func TestApproveStaleSnapshot(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))
	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(150))

	if _, err := tl.Modify(ctx, "operator", &budget.ModifyRequest{
		AgentID:   "acme/web/crawler",
		NewBudget: units(160),
		Reason:    "separate direct raise",
	}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	_, err := tl.ApproveRequest(ctx, "operator", &budget.RequestApprove{RequestID: request.ID})
	var verr *budget.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if verr.Field != "approved_budget" {
		t.Errorf("field = %s, want approved_budget", verr.Field)
	}

	pending, err := tl.GetRequest(ctx, &budget.RequestShow{RequestID: request.ID})
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if pending.Status != budget.RequestPending {
		t.Errorf("status = %s after failed approval, want pending", pending.Status)
	}

	// A corrected override above the live total still goes through.
	approved, err := tl.ApproveRequest(ctx, "operator", &budget.RequestApprove{
		RequestID:      request.ID,
		ApprovedBudget: units(180),
	})
	if err != nil {
		t.Fatalf("corrected approval: %v", err)
	}
	if approved.ApprovedBudget != units(180) {
		t.Errorf("approved = %s, want %s", approved.ApprovedBudget, units(180))
	}
}

// Decided requests are immutable; every further decision conflicts.
func TestRequestTerminalStates(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))
	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))

	if _, err := tl.ApproveRequest(ctx, "operator", &budget.RequestApprove{RequestID: request.ID}); err != nil {
		t.Fatalf("ApproveRequest: %v", err)
	}

	_, err := tl.ApproveRequest(ctx, "operator", &budget.RequestApprove{RequestID: request.ID})
	if !errors.Is(err, ErrRequestStateConflict) {
		t.Errorf("second approve = %v, want ErrRequestStateConflict", err)
	}
	_, err = tl.RejectRequest(ctx, "operator", &budget.RequestReject{
		RequestID: request.ID,
		Notes:     "too late to matter",
	})
	if !errors.Is(err, ErrRequestStateConflict) {
		t.Errorf("reject after approve = %v, want ErrRequestStateConflict", err)
	}
	_, err = tl.CancelRequest(ctx, "acme/web/crawler", &budget.RequestCancel{RequestID: request.ID})
	if !errors.Is(err, ErrRequestStateConflict) {
		t.Errorf("cancel after approve = %v, want ErrRequestStateConflict", err)
	}

	// The budget was raised exactly once.
	st := tl.showStatement(t, "acme/web/crawler")
	if st.Total != units(200) {
		t.Errorf("total = %s, want %s", st.Total, units(200))
	}
}

func TestRejectRequest(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))
	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))

	rejected, err := tl.RejectRequest(ctx, "operator", &budget.RequestReject{
		RequestID: request.ID,
		Notes:     "not this quarter",
	})
	if err != nil {
		t.Fatalf("RejectRequest: %v", err)
	}
	if rejected.Status != budget.RequestRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}
	if rejected.ReviewNotes != "not this quarter" {
		t.Errorf("notes = %q", rejected.ReviewNotes)
	}

	// Rejection touches no budget.
	st := tl.showStatement(t, "acme/web/crawler")
	if st.Total != units(100) {
		t.Errorf("total = %s, want %s", st.Total, units(100))
	}
	history, err := tl.History(ctx, &budget.HistoryRequest{AgentID: "acme/web/crawler"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history.Modifications) != 0 {
		t.Errorf("history has %d entries, want none", len(history.Modifications))
	}
}

// A rejection without a reason helps nobody.
func TestRejectRequiresNotes(t *testing.T) {
	tl := newTestLedger(t)
	tl.enroll(t, "acme/web/crawler", units(100))
	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))

	_, err := tl.RejectRequest(context.Background(), "operator", &budget.RequestReject{
		RequestID: request.ID,
	})
	var verr *budget.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

// The requester withdraws their own request; an operator withdraws
// anyone's; the agent cannot withdraw a request someone else filed on
// its behalf.
func TestCancelOwnership(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))

	own := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))
	cancelled, err := tl.CancelRequest(ctx, "acme/web/crawler", &budget.RequestCancel{
		RequestID: own.ID,
		Reason:    "found a cheaper path",
	})
	if err != nil {
		t.Fatalf("cancel own request: %v", err)
	}
	if cancelled.Status != budget.RequestCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.ReviewNotes != "found a cheaper path" {
		t.Errorf("notes = %q", cancelled.ReviewNotes)
	}

	filed := tl.createRequest(t, "operator", "acme/web/crawler", units(200))
	_, err = tl.CancelRequest(ctx, "acme/web/crawler", &budget.RequestCancel{RequestID: filed.ID})
	var verr *budget.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("agent cancelling operator's filing = %v, want validation error", err)
	}

	still, err := tl.GetRequest(ctx, &budget.RequestShow{RequestID: filed.ID})
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if still.Status != budget.RequestPending {
		t.Errorf("status = %s after refused cancel, want pending", still.Status)
	}

	if _, err := tl.CancelRequest(ctx, "operator", &budget.RequestCancel{RequestID: filed.ID}); err != nil {
		t.Fatalf("operator cancel: %v", err)
	}
}

func TestCancelUnknownRequest(t *testing.T) {
	tl := newTestLedger(t)
	_, err := tl.CancelRequest(context.Background(), "operator", &budget.RequestCancel{
		RequestID: "breq-ffffffffffffffff",
	})
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestListRequests(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))
	tl.enroll(t, "acme/web/indexer", units(100))

	first := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))
	tl.fakeClock.Advance(time.Minute)
	second := tl.createRequest(t, "acme/web/indexer", "acme/web/indexer", units(300))
	tl.fakeClock.Advance(time.Minute)
	third := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(400))

	if _, err := tl.RejectRequest(ctx, "operator", &budget.RequestReject{
		RequestID: first.ID,
		Notes:     "superseded by the later ask",
	}); err != nil {
		t.Fatalf("RejectRequest: %v", err)
	}

	all, err := tl.ListRequests(ctx, &budget.RequestList{})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(all.Requests) != 3 {
		t.Fatalf("listed %d requests, want 3", len(all.Requests))
	}
	// Newest first.
	if all.Requests[0].ID != third.ID || all.Requests[2].ID != first.ID {
		t.Errorf("order = %s, %s, %s", all.Requests[0].ID, all.Requests[1].ID, all.Requests[2].ID)
	}

	crawler, err := tl.ListRequests(ctx, &budget.RequestList{AgentID: "acme/web/crawler"})
	if err != nil {
		t.Fatalf("ListRequests(agent): %v", err)
	}
	if len(crawler.Requests) != 2 {
		t.Errorf("agent filter listed %d, want 2", len(crawler.Requests))
	}

	pending, err := tl.ListRequests(ctx, &budget.RequestList{Status: budget.RequestPending})
	if err != nil {
		t.Fatalf("ListRequests(status): %v", err)
	}
	if len(pending.Requests) != 2 {
		t.Errorf("pending filter listed %d, want 2", len(pending.Requests))
	}
	for _, request := range pending.Requests {
		if request.ID == first.ID {
			t.Error("rejected request listed as pending")
		}
	}
	_ = second

	limited, err := tl.ListRequests(ctx, &budget.RequestList{Limit: 1})
	if err != nil {
		t.Fatalf("ListRequests(limit): %v", err)
	}
	if len(limited.Requests) != 1 || limited.Requests[0].ID != third.ID {
		t.Errorf("limited = %+v", limited.Requests)
	}
}

// Racing decisions on one request: exactly one wins, the budget moves
// at most once, and the loser sees a state conflict.
func TestConcurrentDecisions(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tl.enroll(t, "acme/web/crawler", units(100))
	request := tl.createRequest(t, "acme/web/crawler", "acme/web/crawler", units(200))

	var wg sync.WaitGroup
	var approveErr, rejectErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = tl.ApproveRequest(ctx, "reviewer-a", &budget.RequestApprove{RequestID: request.ID})
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = tl.RejectRequest(ctx, "reviewer-b", &budget.RequestReject{
			RequestID: request.ID,
			Notes:     "denied in parallel",
		})
	}()
	wg.Wait()

	if (approveErr == nil) == (rejectErr == nil) {
		t.Fatalf("approve err = %v, reject err = %v; want exactly one winner", approveErr, rejectErr)
	}
	loser := approveErr
	if loser == nil {
		loser = rejectErr
	}
	if !errors.Is(loser, ErrRequestStateConflict) {
		t.Errorf("loser err = %v, want ErrRequestStateConflict", loser)
	}

	final, err := tl.GetRequest(ctx, &budget.RequestShow{RequestID: request.ID})
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	st := tl.showStatement(t, "acme/web/crawler")
	switch final.Status {
	case budget.RequestApproved:
		if approveErr != nil {
			t.Error("approved, but the approver saw an error")
		}
		if st.Total != units(200) {
			t.Errorf("total = %s after approval, want %s", st.Total, units(200))
		}
	case budget.RequestRejected:
		if rejectErr != nil {
			t.Error("rejected, but the rejecter saw an error")
		}
		if st.Total != units(100) {
			t.Errorf("total = %s after rejection, want %s", st.Total, units(100))
		}
	default:
		t.Errorf("final status = %s, want a terminal state", final.Status)
	}
}
