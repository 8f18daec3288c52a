// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package agenttoken implements the Ed25519-signed credentials that
// authenticate agents and operators to the ledger service.
//
// A credential is a CBOR payload followed by a 64-byte Ed25519
// signature. The ledger service holds the signing key and mints a
// credential when an agent is enrolled; verification needs only the
// public key. Agent credentials are long-lived: they carry no expiry
// and are retired through the revocation list when the agent is
// archived. Operator credentials typically do carry an expiry.
package agenttoken

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/bursar-io/bursar/lib/codec"
)

const signatureSize = ed25519.SignatureSize // 64 bytes

// Grant authorizes a set of actions against a set of agents. Both
// sides use glob patterns: "lease/**" covers every lease action,
// "acme/**" covers every agent under the acme project prefix.
type Grant struct {
	// Actions is the list of action patterns this grant covers.
	Actions []string `cbor:"1,keyasint"`

	// Agents is the list of agent ID patterns the actions may target.
	// Empty means the grant covers only untargeted actions.
	Agents []string `cbor:"2,keyasint,omitempty"`
}

// Token is the CBOR payload of a credential.
type Token struct {
	// Subject identifies the principal: the agent ID for agent
	// credentials, or an operator identifier like "operator/jchen".
	Subject string `cbor:"1,keyasint"`

	// Audience is the service this credential is scoped to
	// ("bursar-ledger"). A credential for one service is useless
	// against another.
	Audience string `cbor:"2,keyasint"`

	// Grants are the authorizations embedded in the credential.
	Grants []Grant `cbor:"3,keyasint,omitempty"`

	// ID uniquely identifies this credential (hex string) for
	// revocation.
	ID string `cbor:"4,keyasint"`

	// IssuedAt is the mint time as a Unix timestamp in seconds.
	IssuedAt int64 `cbor:"5,keyasint"`

	// ExpiresAt is a Unix timestamp after which the credential is
	// invalid. Zero means the credential never expires on its own and
	// can only be retired by revocation.
	ExpiresAt int64 `cbor:"6,keyasint,omitempty"`
}

// Errors returned by verification.
var (
	ErrTokenTooShort    = errors.New("agenttoken: token too short for signature")
	ErrInvalidSignature = errors.New("agenttoken: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("agenttoken: token has expired")
	ErrAudienceMismatch = errors.New("agenttoken: audience does not match")
	ErrTokenRevoked     = errors.New("agenttoken: token has been revoked")
)

// Mint signs the token and returns the wire form: CBOR payload
// followed by the Ed25519 signature.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("agenttoken: encoding payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)
	wire := make([]byte, len(payload)+signatureSize)
	copy(wire, payload)
	copy(wire[len(payload):], signature)
	return wire, nil
}

// Verify checks the signature and expiry against the current time and
// returns the decoded token. Callers additionally check Audience
// (or use VerifyForAudience) and consult the revocation list.
func Verify(publicKey ed25519.PublicKey, wire []byte) (*Token, error) {
	return VerifyAt(publicKey, wire, time.Now())
}

// VerifyAt is Verify with an explicit time, for deterministic tests.
// A zero ExpiresAt never expires.
func VerifyAt(publicKey ed25519.PublicKey, wire []byte, now time.Time) (*Token, error) {
	if len(wire) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	split := len(wire) - signatureSize
	payload, signature := wire[:split], wire[split:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("agenttoken: decoding payload: %w", err)
	}

	if token.ExpiresAt != 0 && now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &token, nil
}

// VerifyForAudience combines signature, expiry, and audience checks —
// the standard service-side verification path.
func VerifyForAudience(publicKey ed25519.PublicKey, wire []byte, audience string) (*Token, error) {
	return VerifyForAudienceAt(publicKey, wire, audience, time.Now())
}

// VerifyForAudienceAt is VerifyForAudience with an explicit time.
func VerifyForAudienceAt(publicKey ed25519.PublicKey, wire []byte, audience string, now time.Time) (*Token, error) {
	token, err := VerifyAt(publicKey, wire, now)
	if err != nil {
		return nil, err
	}
	if token.Audience != audience {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, token.Audience, audience)
	}
	return token, nil
}

// GrantsAllow reports whether any grant authorizes action against
// agentID. An empty agentID means the action has no agent target
// (liveness, rollups); only the action patterns are consulted. With a
// target, a grant must match on both sides — a grant with no Agents
// patterns never authorizes a targeted action.
func GrantsAllow(grants []Grant, action, agentID string) bool {
	for _, grant := range grants {
		if !MatchAny(grant.Actions, action) {
			continue
		}
		if agentID == "" {
			return true
		}
		if MatchAny(grant.Agents, agentID) {
			return true
		}
	}
	return false
}
