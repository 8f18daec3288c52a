// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault holds provider API keys and issues them to leases.
//
// At rest, provider keys live in SQLite as age ciphertext sealed to
// the service's vault identity; the operator CLI seals new keys to the
// identity's public recipient, so plaintext never crosses the socket
// and never touches durable storage.
//
// At handshake, the service unseals the provider key and re-encrypts
// it under a key derived for that one lease. The agent receives the
// sealed secret and the lease key together and decrypts locally with
// Open. Leaking a lease key exposes exactly one lease's copy of the
// secret, nothing else.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bursar-io/bursar/lib/sealed"
	"github.com/bursar-io/bursar/lib/secret"
)

// KeySize is the size in bytes of all symmetric keys in the vault:
// the derived master key and every per-lease key.
const KeySize = 32

// SealedSecretVersion is the version byte prepended to every sealed
// secret. Included as additional authenticated data (AAD) in the AEAD
// Seal/Open call, so tampering with the version byte causes
// authentication failure.
const SealedSecretVersion byte = 0x01

// SealedSecretOverhead is the total byte overhead per sealed secret:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const SealedSecretOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings. These are the "info" parameter to HKDF-SHA256,
// providing domain separation between derivation paths. Changing
// either invalidates all ciphertext sealed under that path.
var (
	hkdfInfoMaster   = []byte("bursar.vault.wrap.v1")
	hkdfInfoLeaseKey = []byte("bursar.lease.v1")
)

// ErrDecryptFailed is returned by Open for any failure to recover the
// plaintext: truncated blob, unsupported version, wrong key size, or
// AEAD authentication failure. Callers treat it as fatal; a sealed
// secret that fails to open will never open, and the lease holding it
// cannot make provider calls.
var ErrDecryptFailed = errors.New("vault: decrypt failed")

// Vault derives per-lease keys and unseals at-rest provider keys. It
// owns the vault identity's private key and the master key derived
// from it; both live in guarded memory until Close.
type Vault struct {
	identity *sealed.Keypair
	master   *secret.Buffer
}

// New creates a vault from the service's age identity. The keypair is
// owned by the vault and closed by Close; the caller must not use it
// afterward. The master key for lease derivation is derived from the
// identity's private key, so a vault reconstructed from the same
// identity file derives the same lease keys.
func New(identity *sealed.Keypair) (*Vault, error) {
	master, err := deriveKey(identity.PrivateKey.Bytes(), hkdfInfoMaster)
	if err != nil {
		return nil, fmt.Errorf("vault: deriving master key: %w", err)
	}
	return &Vault{identity: identity, master: master}, nil
}

// Recipient returns the age public key that operators seal provider
// keys to. Safe to log and to hand out over the socket.
func (v *Vault) Recipient() string {
	return v.identity.PublicKey
}

// UnsealProviderKey opens the at-rest age ciphertext of a provider
// key. The returned buffer holds the plaintext key and must be closed
// by the caller, typically right after Issue re-seals it for a lease.
func (v *Vault) UnsealProviderKey(ciphertext string) (*secret.Buffer, error) {
	plaintext, err := sealed.Decrypt(ciphertext, v.identity.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("vault: unsealing provider key: %w", err)
	}
	return plaintext, nil
}

// Issue seals a provider key for a single lease. It derives the lease
// key from the master key and lease ID, encrypts the provider key
// under it, and returns the sealed secret alongside the lease key
// bytes for the wire. The providerKey buffer is borrowed, not closed.
//
// The lease key derivation is deterministic: issuing twice for the
// same lease yields the same key (with distinct ciphertext, since the
// nonce is random). The service never stores lease keys.
func (v *Vault) Issue(providerKey *secret.Buffer, leaseID string) (sealedSecret []byte, leaseKey []byte, err error) {
	derived, err := deriveLeaseKey(v.master, leaseID)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: deriving lease key: %w", err)
	}
	defer derived.Close()

	blob, err := seal(providerKey.Bytes(), derived, leaseID)
	if err != nil {
		return nil, nil, err
	}

	// Copy out of guarded memory for the wire; the response struct is
	// transient and the agent re-protects the key on arrival.
	wireKey := make([]byte, KeySize)
	copy(wireKey, derived.Bytes())
	return blob, wireKey, nil
}

// Close zeroes and releases the identity and master key. Idempotent.
func (v *Vault) Close() error {
	masterErr := v.master.Close()
	identityErr := v.identity.Close()
	if masterErr != nil {
		return masterErr
	}
	return identityErr
}

// Open decrypts a sealed secret with the lease key received at
// handshake. The lease ID must match the one the secret was issued
// for; it is bound into the AAD, so a secret cannot be replayed
// against a different lease. The plaintext lands in a guarded buffer
// the caller must close.
//
// Every failure path returns ErrDecryptFailed (wrapped with detail).
func Open(sealedSecret []byte, leaseKey []byte, leaseID string) (*secret.Buffer, error) {
	if len(leaseKey) != KeySize {
		return nil, fmt.Errorf("%w: lease key is %d bytes, need %d", ErrDecryptFailed, len(leaseKey), KeySize)
	}
	if len(sealedSecret) < SealedSecretOverhead {
		return nil, fmt.Errorf("%w: sealed secret is %d bytes, minimum is %d", ErrDecryptFailed, len(sealedSecret), SealedSecretOverhead)
	}

	version := sealedSecret[0]
	if version != SealedSecretVersion {
		return nil, fmt.Errorf("%w: version %d is not supported (expected %d)", ErrDecryptFailed, version, SealedSecretVersion)
	}

	nonce := sealedSecret[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealedSecret[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(leaseKey)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrDecryptFailed, err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(version, leaseID))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed (wrong key, tampered data, or mismatched lease)", ErrDecryptFailed)
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("vault: protecting decrypted secret: %w", err)
	}
	return buffer, nil
}

// Mask obscures a key for display. Eight characters or fewer masks
// entirely; longer keys keep the first four and last three so an
// operator can tell keys apart without seeing them.
func Mask(value string) string {
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-3:]
}

// seal encrypts plaintext under a derived lease key:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// The version byte and lease ID are the AAD, binding the ciphertext
// to its lease.
func seal(plaintext []byte, leaseKey *secret.Buffer, leaseID string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(leaseKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vault: creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("vault: generating random nonce: %w", err)
	}

	// Allocate output: version + nonce + ciphertext + tag. Seal
	// appends the ciphertext+tag.
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = SealedSecretVersion
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, buildAAD(SealedSecretVersion, leaseID)), nil
}

// deriveLeaseKey derives the per-lease encryption key from the master
// key and lease ID.
func deriveLeaseKey(master *secret.Buffer, leaseID string) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoLeaseKey)+len(leaseID))
	copy(info, hkdfInfoLeaseKey)
	copy(info[len(hkdfInfoLeaseKey):], leaseID)
	return deriveKey(master.Bytes(), info)
}

// deriveKey is the shared HKDF-SHA256 implementation. It derives a
// 32-byte key from inputKeyMaterial using the given info parameter.
// The salt is nil: the IKM is either an age private key or a key
// already derived by HKDF, both uniformly random, so the extract
// phase with nil salt (HMAC-SHA256 with zero key) is appropriate per
// RFC 5869.
func deriveKey(inputKeyMaterial []byte, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into guarded memory and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// buildAAD constructs the additional authenticated data: the version
// byte followed by the lease ID.
func buildAAD(version byte, leaseID string) []byte {
	aad := make([]byte, 1+len(leaseID))
	aad[0] = version
	copy(aad[1:], leaseID)
	return aad
}
