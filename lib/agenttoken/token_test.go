// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package agenttoken

import (
	"errors"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testToken() *Token {
	return &Token{
		Subject:  "acme/billing-triage",
		Audience: "bursar-ledger",
		Grants: []Grant{{
			Actions: []string{"lease/**", "request/create"},
			Agents:  []string{"acme/billing-triage"},
		}},
		ID:       "a1b2c3d4e5f60718",
		IssuedAt: testEpoch.Unix(),
	}
}

func mintTestToken(t *testing.T, token *Token) ([]byte, []byte) {
	t.Helper()
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	wire, err := Mint(private, token)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return wire, public
}

func TestMintVerifyRoundTrip(t *testing.T) {
	token := testToken()
	wire, public := mintTestToken(t, token)

	verified, err := VerifyAt(public, wire, testEpoch)
	if err != nil {
		t.Fatalf("VerifyAt: %v", err)
	}
	if verified.Subject != token.Subject {
		t.Errorf("Subject = %q, want %q", verified.Subject, token.Subject)
	}
	if verified.Audience != token.Audience {
		t.Errorf("Audience = %q, want %q", verified.Audience, token.Audience)
	}
	if len(verified.Grants) != 1 || len(verified.Grants[0].Actions) != 2 {
		t.Errorf("Grants did not round-trip: %+v", verified.Grants)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	wire, public := mintTestToken(t, testToken())
	wire[3] ^= 0xff

	if _, err := VerifyAt(public, wire, testEpoch); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered token: err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	wire, _ := mintTestToken(t, testToken())
	otherPublic, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, err := VerifyAt(otherPublic, wire, testEpoch); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong key: err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsShortToken(t *testing.T) {
	public, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, err := VerifyAt(public, make([]byte, 10), testEpoch); !errors.Is(err, ErrTokenTooShort) {
		t.Errorf("short token: err = %v, want ErrTokenTooShort", err)
	}
}

func TestNoExpiryTokenNeverExpires(t *testing.T) {
	token := testToken() // ExpiresAt zero
	wire, public := mintTestToken(t, token)

	farFuture := testEpoch.AddDate(30, 0, 0)
	if _, err := VerifyAt(public, wire, farFuture); err != nil {
		t.Errorf("no-expiry token rejected after 30 years: %v", err)
	}
}

func TestExpiringToken(t *testing.T) {
	token := testToken()
	token.Subject = "operator/jchen"
	token.ExpiresAt = testEpoch.Add(time.Hour).Unix()
	wire, public := mintTestToken(t, token)

	if _, err := VerifyAt(public, wire, testEpoch.Add(59*time.Minute)); err != nil {
		t.Errorf("unexpired token rejected: %v", err)
	}
	if _, err := VerifyAt(public, wire, testEpoch.Add(2*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token: err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyForAudience(t *testing.T) {
	wire, public := mintTestToken(t, testToken())

	if _, err := VerifyForAudienceAt(public, wire, "bursar-ledger", testEpoch); err != nil {
		t.Errorf("matching audience rejected: %v", err)
	}
	if _, err := VerifyForAudienceAt(public, wire, "other-service", testEpoch); !errors.Is(err, ErrAudienceMismatch) {
		t.Errorf("wrong audience: err = %v, want ErrAudienceMismatch", err)
	}
}

func TestGrantsAllow(t *testing.T) {
	grants := []Grant{
		{Actions: []string{"lease/**"}, Agents: []string{"acme/billing-triage"}},
		{Actions: []string{"rollup/*"}},
	}

	cases := []struct {
		action, agent string
		want          bool
	}{
		{"lease/handshake", "acme/billing-triage", true},
		{"lease/report", "acme/billing-triage", true},
		{"lease/report", "acme/other", false},
		{"budget/modify", "acme/billing-triage", false},
		{"rollup/projects", "", true},
		// A grant with no agent patterns never authorizes a targeted
		// action.
		{"rollup/projects", "acme/billing-triage", false},
		{"lease/handshake", "", true},
	}
	for _, tc := range cases {
		if got := GrantsAllow(grants, tc.action, tc.agent); got != tc.want {
			t.Errorf("GrantsAllow(%q, %q) = %v, want %v", tc.action, tc.agent, got, tc.want)
		}
	}
}

func TestGrantsAllowEmpty(t *testing.T) {
	if GrantsAllow(nil, "lease/handshake", "") {
		t.Error("empty grants allowed an action")
	}
}
