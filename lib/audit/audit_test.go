// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/codec"
)

var testEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func openTestLog(t *testing.T, dir string, segmentRecords int) *Log {
	t.Helper()
	log, err := Open(Config{
		Dir:            dir,
		Clock:          clock.Fake(testEpoch),
		Logger:         testLogger(),
		SegmentRecords: segmentRecords,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return log
}

func appendTestRecords(t *testing.T, log *Log, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		err := log.Append(Record{
			Actor:   "operator",
			Action:  "budget/modify",
			AgentID: "acme/support",
			Detail:  "entry",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestAppendAndVerify(t *testing.T) {
	dir := t.TempDir()
	log := openTestLog(t, dir, 0)

	err := log.Append(Record{
		Actor:    "operator",
		Action:   "budget/modify",
		AgentID:  "acme/support",
		Previous: "$40.00",
		New:      "$55.00",
		Detail:   "quarter close",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	appendTestRecords(t, log, 2)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := VerifyDir(dir)
	if err != nil {
		t.Fatalf("VerifyDir: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("verified %d records, want 3", len(records))
	}

	first := records[0]
	if first.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", first.Sequence)
	}
	if first.Timestamp != testEpoch.UnixNano() {
		t.Errorf("timestamp = %d, want %d", first.Timestamp, testEpoch.UnixNano())
	}
	if first.Previous != "$40.00" || first.New != "$55.00" {
		t.Errorf("previous/new = %q/%q", first.Previous, first.New)
	}
	for i, record := range records {
		if record.Sequence != uint64(i+1) {
			t.Errorf("record %d has sequence %d", i, record.Sequence)
		}
	}
}

func TestCloseIsIdempotentAndAppendFailsAfter(t *testing.T) {
	dir := t.TempDir()
	log := openTestLog(t, dir, 0)
	appendTestRecords(t, log, 1)

	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := log.Append(Record{Actor: "x", Action: "y"}); err == nil {
		t.Fatal("Append after Close succeeded")
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	log := openTestLog(t, dir, 2)
	appendTestRecords(t, log, 5)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, compressed, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("%d raw segments remain after close", len(raw))
	}
	if len(compressed) != 3 {
		t.Fatalf("%d compressed segments, want 3", len(compressed))
	}

	records, err := VerifyDir(dir)
	if err != nil {
		t.Fatalf("VerifyDir: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("verified %d records, want 5", len(records))
	}
}

func TestEmptyLogLeavesNoSegments(t *testing.T) {
	dir := t.TempDir()
	log := openTestLog(t, dir, 0)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, compressed, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(raw) != 0 || len(compressed) != 0 {
		t.Errorf("empty log left %d raw and %d compressed segments", len(raw), len(compressed))
	}

	records, err := VerifyDir(dir)
	if err != nil {
		t.Fatalf("VerifyDir: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("verified %d records in empty dir", len(records))
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	log := openTestLog(t, dir, 0)
	appendTestRecords(t, log, 3)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	log = openTestLog(t, dir, 0)
	appendTestRecords(t, log, 2)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := VerifyDir(dir)
	if err != nil {
		t.Fatalf("VerifyDir: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("verified %d records, want 5", len(records))
	}
	if records[4].Sequence != 5 {
		t.Errorf("final sequence = %d, want 5", records[4].Sequence)
	}
}

func TestRecoveryAfterCrash(t *testing.T) {
	dir := t.TempDir()

	// Crash: the log is abandoned without Close, leaving a raw
	// segment behind.
	abandoned := openTestLog(t, dir, 0)
	appendTestRecords(t, abandoned, 3)

	log := openTestLog(t, dir, 0)
	appendTestRecords(t, log, 1)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := VerifyDir(dir)
	if err != nil {
		t.Fatalf("VerifyDir: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("verified %d records, want 4", len(records))
	}
	if records[3].Sequence != 4 {
		t.Errorf("post-recovery sequence = %d, want 4", records[3].Sequence)
	}
}

func TestRecoveryDropsTornRecord(t *testing.T) {
	dir := t.TempDir()

	abandoned := openTestLog(t, dir, 0)
	appendTestRecords(t, abandoned, 2)

	// Simulate a write cut off mid-record.
	raw, _, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("%d raw segments, want 1", len(raw))
	}
	path := filepath.Join(dir, raw[0])
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := file.Write([]byte{0xa2, 0x66, 0x72}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	file.Close()

	log := openTestLog(t, dir, 0)
	appendTestRecords(t, log, 1)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := VerifyDir(dir)
	if err != nil {
		t.Fatalf("VerifyDir: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("verified %d records, want 3 (torn record dropped)", len(records))
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	dir := t.TempDir()

	// Build a raw segment by hand: three correctly chained records,
	// then record 2 altered after its hash was computed.
	records := []Record{
		{Sequence: 1, Timestamp: testEpoch.UnixNano(), Actor: "operator", Action: "agent/enroll"},
		{Sequence: 2, Timestamp: testEpoch.UnixNano(), Actor: "operator", Action: "budget/modify", New: "$10.00"},
		{Sequence: 3, Timestamp: testEpoch.UnixNano(), Actor: "operator", Action: "budget/modify", New: "$20.00"},
	}

	var previous Hash
	var frames []byte
	for i := range records {
		recordBytes, err := encodeRecord(&records[i])
		if err != nil {
			t.Fatalf("encodeRecord: %v", err)
		}
		hash := chainHash(previous, recordBytes)

		framed := records[i]
		if framed.Sequence == 2 {
			framed.New = "$99.00"
		}
		frame, err := encodeEnvelope(&envelope{Record: framed, Hash: hash[:]})
		if err != nil {
			t.Fatalf("encodeEnvelope: %v", err)
		}
		frames = append(frames, frame...)
		previous = hash
	}

	path := filepath.Join(dir, "audit-20260115T120000Z-00000001.cbor")
	if err := os.WriteFile(path, frames, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := ReadSegment(path)
	if err == nil {
		t.Fatal("ReadSegment accepted a tampered record")
	}
	if !strings.Contains(err.Error(), "chain broken at sequence 2") {
		t.Errorf("error = %v, want chain broken at sequence 2", err)
	}
}

func TestVerifyDirDetectsMissingSegment(t *testing.T) {
	dir := t.TempDir()

	log := openTestLog(t, dir, 1)
	appendTestRecords(t, log, 3)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, compressed, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(compressed) != 3 {
		t.Fatalf("%d segments, want 3", len(compressed))
	}
	if err := os.Remove(filepath.Join(dir, compressed[1])); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := VerifyDir(dir); err == nil {
		t.Fatal("VerifyDir accepted a trail with a missing segment")
	}
}

func TestSocketNotifier(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "notify.sock")
	listener, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: socketPath, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram: %v", err)
	}
	defer listener.Close()

	notifier, err := NewSocketNotifier(socketPath, testLogger())
	if err != nil {
		t.Fatalf("NewSocketNotifier: %v", err)
	}
	defer notifier.Close()

	dir := t.TempDir()
	log, err := Open(Config{
		Dir:      dir,
		Clock:    clock.Fake(testEpoch),
		Logger:   testLogger(),
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	err = log.Append(Record{
		Actor:   "operator",
		Action:  "vault/put",
		AgentID: "acme/support",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	listener.SetReadDeadline(time.Now().Add(5 * time.Second))
	datagram := make([]byte, 4096)
	n, _, err := listener.ReadFromUnix(datagram)
	if err != nil {
		t.Fatalf("ReadFromUnix: %v", err)
	}

	var received Record
	if err := codec.Unmarshal(datagram[:n], &received); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if received.Sequence != 1 || received.Action != "vault/put" {
		t.Errorf("received record %+v", received)
	}
}

func TestNotifierAbsenceDoesNotBlockAppend(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "notify.sock")
	listener, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: socketPath, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram: %v", err)
	}

	notifier, err := NewSocketNotifier(socketPath, testLogger())
	if err != nil {
		t.Fatalf("NewSocketNotifier: %v", err)
	}
	defer notifier.Close()

	// The listener goes away; appends must keep succeeding.
	listener.Close()

	dir := t.TempDir()
	log, err := Open(Config{
		Dir:      dir,
		Clock:    clock.Fake(testEpoch),
		Logger:   testLogger(),
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	appendTestRecords(t, log, 3)
}
