// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"errors"
	"strings"
	"testing"

	"github.com/bursar-io/bursar/lib/money"
)

func mustMicros(t *testing.T, s string) money.Micros {
	t.Helper()
	m, err := money.ParseAmount(s)
	if err != nil {
		t.Fatalf("ParseAmount(%q): %v", s, err)
	}
	return m
}

func TestValidAgentID(t *testing.T) {
	valid := []string{
		"triage",
		"acme/billing-triage",
		"acme/billing/summarizer_2",
		"a1/b2/c3",
	}
	for _, id := range valid {
		if err := ValidAgentID(id); err != nil {
			t.Errorf("ValidAgentID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"Acme/Triage",
		"/leading-slash",
		"trailing-slash/",
		"double//slash",
		"-leading-dash",
		"has space",
		strings.Repeat("a", MaxIDLength+1),
	}
	for _, id := range invalid {
		if err := ValidAgentID(id); err == nil {
			t.Errorf("ValidAgentID(%q) = nil, want error", id)
		}
	}
}

func TestValidationErrorFields(t *testing.T) {
	req := &ModifyRequest{
		AgentID:   "acme/triage",
		NewBudget: -money.PerUnit,
		Reason:    "quarterly budget adjustment",
	}
	err := req.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() = %v, want *ValidationError", err)
	}
	if verr.Field != "new_budget" {
		t.Errorf("Field = %q, want new_budget", verr.Field)
	}
	if !strings.Contains(verr.Error(), "new_budget") {
		t.Errorf("Error() = %q, want it to name the field", verr.Error())
	}
}

func TestHandshakeRequestValidate(t *testing.T) {
	base := func() HandshakeRequest {
		return HandshakeRequest{
			RequestedBudget: mustMicros(t, "10"),
			Provider:        "anthropic",
			RuntimeVersion:  "1.4.0",
		}
	}

	req := base()
	if err := req.Validate(); err != nil {
		t.Fatalf("valid handshake rejected: %v", err)
	}

	// Zero requested budget means "use the default tranche" and is
	// accepted at the wire layer.
	req = base()
	req.RequestedBudget = 0
	if err := req.Validate(); err != nil {
		t.Errorf("zero requested_budget rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*HandshakeRequest)
		field  string
	}{
		{"missing provider", func(r *HandshakeRequest) { r.Provider = "" }, "provider"},
		{"provider too long", func(r *HandshakeRequest) { r.Provider = strings.Repeat("p", MaxProviderLength+1) }, "provider"},
		{"negative budget", func(r *HandshakeRequest) { r.RequestedBudget = -1 }, "requested_budget"},
		{"above tranche cap", func(r *HandshakeRequest) { r.RequestedBudget = TrancheCap + 1 }, "requested_budget"},
		{"key id too long", func(r *HandshakeRequest) { r.KeyID = strings.Repeat("k", MaxIDLength+1) }, "key_id"},
	}
	for _, tc := range cases {
		req := base()
		tc.mutate(&req)
		err := req.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: Validate() = %v, want *ValidationError", tc.name, err)
			continue
		}
		if verr.Field != tc.field {
			t.Errorf("%s: Field = %q, want %q", tc.name, verr.Field, tc.field)
		}
	}

	// The cap itself is allowed.
	req = base()
	req.RequestedBudget = TrancheCap
	if err := req.Validate(); err != nil {
		t.Errorf("tranche cap rejected: %v", err)
	}
}

func TestUsageReportValidate(t *testing.T) {
	base := func() UsageReport {
		return UsageReport{
			LeaseID:   "lease-0123456789abcdef",
			RequestID: "req-001",
			Tokens:    1500,
			Cost:      mustMicros(t, "0.0125"),
			Model:     "claude-sonnet-4-5",
			Provider:  "anthropic",
			Timestamp: 1773576000000,
		}
	}

	req := base()
	if err := req.Validate(); err != nil {
		t.Fatalf("valid report rejected: %v", err)
	}

	// Zero cost is legal (cached or free-tier calls); zero tokens is
	// not, because a call that consumed nothing has nothing to report.
	req = base()
	req.Cost = 0
	if err := req.Validate(); err != nil {
		t.Errorf("zero cost rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*UsageReport)
		field  string
	}{
		{"missing lease", func(r *UsageReport) { r.LeaseID = "" }, "lease_id"},
		{"missing request id", func(r *UsageReport) { r.RequestID = "" }, "request_id"},
		{"zero tokens", func(r *UsageReport) { r.Tokens = 0 }, "tokens"},
		{"negative tokens", func(r *UsageReport) { r.Tokens = -5 }, "tokens"},
		{"negative cost", func(r *UsageReport) { r.Cost = -1 }, "cost"},
		{"missing model", func(r *UsageReport) { r.Model = "" }, "model"},
		{"model too long", func(r *UsageReport) { r.Model = strings.Repeat("m", MaxModelLength+1) }, "model"},
	}
	for _, tc := range cases {
		req := base()
		tc.mutate(&req)
		err := req.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: Validate() = %v, want *ValidationError", tc.name, err)
			continue
		}
		if verr.Field != tc.field {
			t.Errorf("%s: Field = %q, want %q", tc.name, verr.Field, tc.field)
		}
	}
}

func TestModifyRequestValidate(t *testing.T) {
	req := ModifyRequest{
		AgentID:   "acme/triage",
		NewBudget: mustMicros(t, "150"),
		Reason:    "scaling up for the quarterly close",
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid modify rejected: %v", err)
	}

	req.Reason = "too short"
	if err := req.Validate(); err == nil {
		t.Error("short reason accepted")
	}
	req.Reason = strings.Repeat("x", MaxReasonLength+1)
	if err := req.Validate(); err == nil {
		t.Error("oversized reason accepted")
	}
	req.Reason = "scaling up for the quarterly close"
	req.NewBudget = BudgetCap + 1
	if err := req.Validate(); err == nil {
		t.Error("budget above cap accepted")
	}

	// Zero is a valid target: it freezes the agent without archiving.
	req.NewBudget = 0
	if err := req.Validate(); err != nil {
		t.Errorf("zero budget rejected: %v", err)
	}
}

func TestRequestCreateValidate(t *testing.T) {
	req := RequestCreate{
		AgentID:         "acme/triage",
		RequestedBudget: mustMicros(t, "200"),
		Justification:   "Backlog doubled after the January import; current tranche exhausts mid-session.",
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	req.Justification = "need more"
	err := req.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "justification" {
		t.Errorf("short justification: got %v, want justification error", err)
	}

	req.Justification = strings.Repeat("j", MaxJustificationLength+1)
	if err := req.Validate(); err == nil {
		t.Error("oversized justification accepted")
	}

	req.Justification = "Backlog doubled after the January import; current tranche exhausts mid-session."
	req.RequestedBudget = 0
	if err := req.Validate(); err == nil {
		t.Error("zero requested budget accepted")
	}
}

func TestRequestRejectRequiresNotes(t *testing.T) {
	req := RequestReject{RequestID: "breq-0011223344556677"}
	err := req.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "notes" {
		t.Fatalf("empty notes: got %v, want notes error", err)
	}

	req.Notes = "Duplicate of breq-8899aabbccddeeff, which was approved yesterday."
	if err := req.Validate(); err != nil {
		t.Errorf("valid rejection rejected: %v", err)
	}
}

func TestRequestListStatusFilter(t *testing.T) {
	for _, status := range []string{"", RequestPending, RequestApproved, RequestRejected, RequestCancelled} {
		req := RequestList{Status: status}
		if err := req.Validate(); err != nil {
			t.Errorf("status %q rejected: %v", status, err)
		}
	}
	req := RequestList{Status: "open"}
	if err := req.Validate(); err == nil {
		t.Error("unknown status accepted")
	}
}

func TestVaultPutValidate(t *testing.T) {
	req := VaultPut{
		Provider:   "anthropic",
		KeyID:      "anthropic-prod-2026",
		SealedKey:  "YWdlLWVuY3J5cHRlZA==",
		MaskedHint: "sk-a...f3c",
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid put rejected: %v", err)
	}

	req.SealedKey = ""
	if err := req.Validate(); err == nil {
		t.Error("empty sealed key accepted")
	}
	req.SealedKey = "YWdlLWVuY3J5cHRlZA=="
	req.KeyID = ""
	if err := req.Validate(); err == nil {
		t.Error("empty key id accepted")
	}
}

func TestAgentEnrollValidate(t *testing.T) {
	req := AgentEnroll{
		AgentID:       "acme/billing/triage",
		InitialBudget: mustMicros(t, "100"),
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid enroll rejected: %v", err)
	}

	req.InitialBudget = -1
	if err := req.Validate(); err == nil {
		t.Error("negative initial budget accepted")
	}
	req.InitialBudget = BudgetCap + 1
	if err := req.Validate(); err == nil {
		t.Error("initial budget above cap accepted")
	}

	// Zero initial budget is allowed: the agent exists but cannot
	// lease until an operator grants funds.
	req.InitialBudget = 0
	if err := req.Validate(); err != nil {
		t.Errorf("zero initial budget rejected: %v", err)
	}
}

func TestAgentGrantActionsCoverLeaseProtocol(t *testing.T) {
	actions := AgentGrantActions()
	want := []string{ActionAllLease, ActionRequestCreate, ActionRequestShow, ActionRequestList, ActionRequestCancel}
	if len(actions) != len(want) {
		t.Fatalf("AgentGrantActions() = %v, want %v", actions, want)
	}
	for i, action := range want {
		if actions[i] != action {
			t.Errorf("AgentGrantActions()[%d] = %q, want %q", i, actions[i], action)
		}
	}
}
