// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bursar-io/bursar/lib/codec"
)

// ReadSegment returns a segment's records after verifying its hash
// chain and internal sequence continuity. Accepts both raw (.cbor)
// and compressed (.cbor.zst) segments.
func ReadSegment(path string) ([]Record, error) {
	data, err := segmentBytes(path)
	if err != nil {
		return nil, err
	}
	return verifyChain(data, filepath.Base(path))
}

// VerifyDir verifies every segment in a log directory: each segment's
// chain, and the sequence continuity from one segment to the next.
// Returns all records in order. An empty or absent trail is not an
// error.
func VerifyDir(dir string) ([]Record, error) {
	raw, compressed, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw)+len(compressed))
	names = append(names, compressed...)
	names = append(names, raw...)
	sortBySequence(names)

	var all []Record
	for _, name := range names {
		records, err := ReadSegment(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		if len(all) > 0 && records[0].Sequence != all[len(all)-1].Sequence+1 {
			return nil, fmt.Errorf("audit: segment %s starts at sequence %d, expected %d",
				name, records[0].Sequence, all[len(all)-1].Sequence+1)
		}
		all = append(all, records...)
	}
	return all, nil
}

// verifyChain walks a segment's envelopes, recomputing each chain
// hash from the zero value and comparing against the stored one.
func verifyChain(data []byte, name string) ([]Record, error) {
	decoder := codec.NewDecoder(bytes.NewReader(data))

	var records []Record
	var previous Hash
	for {
		var env envelope
		err := decoder.Decode(&env)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audit: segment %s: decoding record %d: %w", name, len(records)+1, err)
		}

		recordBytes, err := encodeRecord(&env.Record)
		if err != nil {
			return nil, err
		}
		expected := chainHash(previous, recordBytes)
		if !bytes.Equal(expected[:], env.Hash) {
			return nil, fmt.Errorf("audit: segment %s: chain broken at sequence %d", name, env.Record.Sequence)
		}
		if len(records) > 0 && env.Record.Sequence != records[len(records)-1].Sequence+1 {
			return nil, fmt.Errorf("audit: segment %s: sequence %d follows %d",
				name, env.Record.Sequence, records[len(records)-1].Sequence)
		}

		records = append(records, env.Record)
		previous = expected
	}
	return records, nil
}

// readRawSegment decodes envelopes from an uncompressed segment,
// tolerating a torn final record from a crash. Returns the records,
// the byte length of the intact prefix, and whether a torn tail was
// found. The chain is not verified here; crash recovery trusts the
// local disk it is about to keep appending to.
func readRawSegment(path string) (records []Record, goodBytes int64, torn bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, false, fmt.Errorf("reading segment: %w", err)
	}

	decoder := codec.NewDecoder(bytes.NewReader(data))
	for {
		var env envelope
		decodeErr := decoder.Decode(&env)
		if errors.Is(decodeErr, io.EOF) {
			return records, goodBytes, false, nil
		}
		if decodeErr != nil {
			return records, goodBytes, true, nil
		}
		records = append(records, env.Record)
		goodBytes = int64(decoder.NumBytesRead())
	}
}

// segmentBytes reads a segment file, decompressing if needed.
func segmentBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: reading segment: %w", err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return data, nil
	}

	decompressed, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: decompressing segment %s: %w", filepath.Base(path), err)
	}
	return decompressed, nil
}

// sortBySequence orders segment names by their starting sequence.
func sortBySequence(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return segmentStartSequence(names[i]) < segmentStartSequence(names[j])
	})
}
