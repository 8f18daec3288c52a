// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package agenttoken

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/bursar-io/bursar/lib/codec"
)

// Revocations is a thread-safe set of revoked credential IDs.
//
// Because agent credentials carry no expiry, revocation entries never
// age out on their own — the set holds one ID per retired credential
// for as long as the signing key that minted it remains in use. That
// stays small: credentials are revoked when an agent is archived, not
// on routine rotation. The ledger service persists the set and
// restores it on startup via IDs and Load.
type Revocations struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewRevocations creates an empty revocation set.
func NewRevocations() *Revocations {
	return &Revocations{ids: make(map[string]struct{})}
}

// Revoke adds a credential ID to the set. Idempotent.
func (r *Revocations) Revoke(tokenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[tokenID] = struct{}{}
}

// IsRevoked reports whether a credential ID has been revoked.
func (r *Revocations) IsRevoked(tokenID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, revoked := r.ids[tokenID]
	return revoked
}

// Len returns the number of revoked IDs.
func (r *Revocations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// IDs returns a snapshot of the revoked credential IDs, for
// persistence.
func (r *Revocations) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	return ids
}

// Load adds previously persisted IDs to the set.
func (r *Revocations) Load(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
}

// RevocationRequest is the payload of a signed revocation message to
// the ledger service, used to retire leaked credentials without
// archiving the agent. The holder of the signing key signs the CBOR
// payload; the service verifies with the same public key it uses for
// credential verification.
type RevocationRequest struct {
	// CredentialIDs lists the credentials to revoke.
	CredentialIDs []string `cbor:"1,keyasint"`

	// IssuedAt is the Unix timestamp (seconds) of when the request
	// was created.
	IssuedAt int64 `cbor:"2,keyasint"`
}

// Errors returned by VerifyRevocation.
var (
	ErrRevocationTooShort  = errors.New("agenttoken: revocation data too short for signature")
	ErrRevocationBadSig    = errors.New("agenttoken: invalid revocation signature")
	ErrRevocationNoEntries = errors.New("agenttoken: revocation request has no entries")
)

// SignRevocation signs a revocation request. The wire format mirrors
// credential signing: CBOR payload followed by a 64-byte Ed25519
// signature.
func SignRevocation(privateKey ed25519.PrivateKey, request *RevocationRequest) ([]byte, error) {
	payload, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("agenttoken: encoding revocation request: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)

	return result, nil
}

// VerifyRevocation verifies the signature on a signed revocation
// request and decodes the payload.
func VerifyRevocation(publicKey ed25519.PublicKey, data []byte) (*RevocationRequest, error) {
	if len(data) <= signatureSize {
		return nil, ErrRevocationTooShort
	}

	splitPoint := len(data) - signatureSize
	payload := data[:splitPoint]
	signature := data[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrRevocationBadSig
	}

	var request RevocationRequest
	if err := codec.Unmarshal(payload, &request); err != nil {
		return nil, fmt.Errorf("agenttoken: decoding revocation request: %w", err)
	}

	if len(request.CredentialIDs) == 0 {
		return nil, ErrRevocationNoEntries
	}

	return &request, nil
}
