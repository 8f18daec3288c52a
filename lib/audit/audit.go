// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit writes the tamper-evident trail of ledger mutations.
//
// Records append to the active segment as a CBOR stream, each chained
// to its predecessor by a keyed BLAKE3 hash, so editing, dropping, or
// reordering a record inside a segment breaks every hash after it.
// Full segments are compressed with zstd and a fresh segment begins;
// sequence numbers continue across segments for the life of the log.
package audit

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bursar-io/bursar/lib/codec"
)

// Record is one audit entry. Sequence and Timestamp are assigned by
// Append; everything else is the caller's account of the mutation.
// Previous and New are rendered values (budget amounts, statuses) so
// the trail reads without joining against the ledger.
type Record struct {
	Sequence  uint64 `cbor:"seq"`
	Timestamp int64  `cbor:"time"`
	Actor     string `cbor:"actor"`
	Action    string `cbor:"action"`
	AgentID   string `cbor:"agent_id,omitempty"`
	LeaseID   string `cbor:"lease_id,omitempty"`
	RequestID string `cbor:"request_id,omitempty"`
	Previous  string `cbor:"previous,omitempty"`
	New       string `cbor:"new,omitempty"`
	Detail    string `cbor:"detail,omitempty"`
}

// envelope is the on-disk frame: the record plus the chain hash over
// it. Verification recomputes the hash from the previous envelope's
// hash and the re-encoded record.
type envelope struct {
	Record Record `cbor:"record"`
	Hash   []byte `cbor:"hash"`
}

// Hash is a 32-byte BLAKE3 digest in the audit chain domain.
type Hash [32]byte

// chainDomainKey is the BLAKE3 key for chain hashing. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes:
// readable in hex dumps without sacrificing any cryptographic
// property. Changing it invalidates every existing segment.
var chainDomainKey = [32]byte{
	'b', 'u', 'r', 's', 'a', 'r', '.', 'a', 'u', 'd', 'i', 't', '.',
	'c', 'h', 'a', 'i', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// chainHash computes the next chain value: BLAKE3 keyed hash of the
// previous value followed by the record's CBOR encoding. The first
// record of a segment chains from the zero hash, making each segment
// independently verifiable.
func chainHash(previous Hash, recordBytes []byte) Hash {
	hasher, err := blake3.NewKeyed(chainDomainKey[:])
	if err != nil {
		panic("audit: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(previous[:])
	hasher.Write(recordBytes)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// Notifier receives each record after it is appended. Implementations
// must not block: Append holds the log lock while notifying.
type Notifier interface {
	Notify(record *Record)
}

// encodeRecord marshals a record for hashing and framing. Struct
// encoding is deterministic (fields emit in declaration order), so
// verification can re-encode a decoded record and reproduce the bytes
// that were hashed.
func encodeRecord(record *Record) ([]byte, error) {
	data, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("audit: encoding record: %w", err)
	}
	return data, nil
}

// encodeEnvelope marshals an on-disk frame.
func encodeEnvelope(env *envelope) ([]byte, error) {
	data, err := codec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("audit: encoding envelope: %w", err)
	}
	return data, nil
}
