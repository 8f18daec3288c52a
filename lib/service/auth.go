// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/codec"
)

// AuthConfig holds what the server needs to verify agent credentials:
// the signing public key, the audience this service answers to, the
// revocation set, and a clock for expiry checks on operator-issued
// credentials.
type AuthConfig struct {
	PublicKey   ed25519.PublicKey
	Audience    string
	Revocations *agenttoken.Revocations
	Clock       clock.Clock
}

// authenticate extracts and verifies the credential from a raw CBOR
// request. Returns the verified token, or an error safe to send to
// the client.
//
// Error messages are deliberately coarse: expiry and revocation are
// named (the client can act on them), but signature and audience
// failures collapse to "authentication failed" so a probing caller
// learns nothing about which check tripped.
func (c *AuthConfig) authenticate(raw []byte) (*agenttoken.Token, error) {
	var carrier struct {
		Token []byte `cbor:"token"`
	}
	if err := codec.Unmarshal(raw, &carrier); err != nil {
		return nil, fmt.Errorf("invalid request: %v", err)
	}
	if len(carrier.Token) == 0 {
		return nil, errors.New("missing token field")
	}

	token, err := agenttoken.VerifyForAudienceAt(c.PublicKey, carrier.Token, c.Audience, c.Clock.Now())
	if err != nil {
		if errors.Is(err, agenttoken.ErrTokenExpired) {
			return nil, errors.New("token expired")
		}
		return nil, errors.New("authentication failed")
	}

	if c.Revocations != nil && c.Revocations.IsRevoked(token.ID) {
		return nil, errors.New("token revoked")
	}

	return token, nil
}
