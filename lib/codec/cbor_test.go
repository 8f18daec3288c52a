// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestDeterministicEncoding(t *testing.T) {
	// Map iteration order is random in Go; deterministic encoding must
	// produce identical bytes regardless.
	value := map[string]any{
		"zebra": 1, "alpha": 2, "mango": 3, "delta": 4,
	}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x vs %x", first, again)
		}
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	encoded, err := Marshal(map[string]any{
		"known":   "value",
		"unknown": 42,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var target struct {
		Known string `cbor:"known"`
	}
	if err := Unmarshal(encoded, &target); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if target.Known != "value" {
		t.Errorf("Known = %q, want %q", target.Known, "value")
	}
}

func TestAnyTargetDecodesToStringMap(t *testing.T) {
	encoded, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded to %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Fatalf("nested decoded to %T, want map[string]any", top["nested"])
	}
}

func TestStreamRoundTrip(t *testing.T) {
	type record struct {
		Seq  int    `cbor:"seq"`
		Name string `cbor:"name"`
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(record{Seq: i, Name: "r"}); err != nil {
			t.Fatalf("Encode(%d): %v", i, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := 0; i < 3; i++ {
		var got record
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode(%d): %v", i, err)
		}
		if got.Seq != i {
			t.Errorf("Seq = %d, want %d", got.Seq, i)
		}
	}
}

func TestRawMessageDeferredDecode(t *testing.T) {
	encoded, err := Marshal(map[string]any{"action": "lease/report", "tokens": 512})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := Unmarshal(encoded, &header); err != nil {
		t.Fatalf("Unmarshal header: %v", err)
	}
	if header.Action != "lease/report" {
		t.Errorf("Action = %q", header.Action)
	}

	var body struct {
		Tokens int64 `cbor:"tokens"`
	}
	if err := Unmarshal(encoded, &body); err != nil {
		t.Fatalf("Unmarshal body: %v", err)
	}
	if body.Tokens != 512 {
		t.Errorf("Tokens = %d, want 512", body.Tokens)
	}
}
