// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/bursar-io/bursar/lib/clock"
)

// defaultSegmentRecords is the rotation threshold when Config leaves
// SegmentRecords zero. At a few hundred bytes per record a full
// segment stays around a megabyte uncompressed.
const defaultSegmentRecords = 4096

// segmentStampFormat is the UTC timestamp embedded in segment names.
const segmentStampFormat = "20060102T150405Z"

// segmentNamePattern matches segment file names and captures the
// starting sequence. Files that do not match are not audit segments
// and are left alone.
var segmentNamePattern = regexp.MustCompile(`^audit-\d{8}T\d{6}Z-(\d{8})\.cbor(\.zst)?$`)

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("audit: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("audit: zstd decoder initialization failed: " + err.Error())
	}
}

// Config holds the parameters for opening an audit log.
type Config struct {
	// Dir is the segment directory, created if absent.
	Dir string

	// Clock provides record timestamps and segment names.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger

	// SegmentRecords is the record count per segment before rotation.
	// Defaults to 4096 if zero or negative.
	SegmentRecords int

	// Notifier, when non-nil, receives every appended record.
	Notifier Notifier
}

// Log is an append-only audit log over a directory of segments.
// Exactly one segment is active (raw CBOR, being appended); rotated
// segments are zstd-compressed and never written again. Safe for
// concurrent use.
type Log struct {
	dir      string
	clock    clock.Clock
	logger   *slog.Logger
	limit    int
	notifier Notifier

	mu             sync.Mutex
	file           *os.File
	path           string
	sequence       uint64 // last assigned sequence
	previous       Hash   // chain value of the last appended record
	segmentRecords int
	closed         bool
}

// Open creates or resumes the audit log in cfg.Dir. A raw segment
// left behind by a crash is read back (a torn final record is
// dropped with a warning), compressed, and retired; appends then
// continue the sequence from the highest record found.
func Open(cfg Config) (*Log, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit: Dir is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("audit: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("audit: Logger is required")
	}

	limit := cfg.SegmentRecords
	if limit <= 0 {
		limit = defaultSegmentRecords
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: creating directory: %w", err)
	}

	log := &Log{
		dir:      cfg.Dir,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		limit:    limit,
		notifier: cfg.Notifier,
	}

	lastSequence, err := log.recoverSegments()
	if err != nil {
		return nil, err
	}
	log.sequence = lastSequence

	if err := log.openSegment(); err != nil {
		return nil, err
	}

	log.logger.Info("audit log opened",
		"dir", cfg.Dir,
		"last_sequence", lastSequence,
		"segment", filepath.Base(log.path),
	)
	return log, nil
}

// Append assigns the next sequence number and the current time to the
// record, chains and writes it, and rotates the segment when full.
// The caller's Sequence and Timestamp fields are ignored.
func (l *Log) Append(record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit: log is closed")
	}

	record.Sequence = l.sequence + 1
	record.Timestamp = l.clock.Now().UnixNano()

	recordBytes, err := encodeRecord(&record)
	if err != nil {
		return err
	}
	hash := chainHash(l.previous, recordBytes)

	frame, err := encodeEnvelope(&envelope{Record: record, Hash: hash[:]})
	if err != nil {
		return err
	}
	if _, err := l.file.Write(frame); err != nil {
		return fmt.Errorf("audit: writing record %d: %w", record.Sequence, err)
	}

	l.sequence = record.Sequence
	l.previous = hash
	l.segmentRecords++

	if l.segmentRecords >= l.limit {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	if l.notifier != nil {
		l.notifier.Notify(&record)
	}
	return nil
}

// Close retires the active segment. An empty segment is removed
// rather than compressed. Further appends fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	return l.retireSegment()
}

// rotate retires the full active segment and opens the next one. The
// new segment's chain restarts from the zero hash; sequence numbers
// continue.
func (l *Log) rotate() error {
	retired := filepath.Base(l.path)
	if err := l.retireSegment(); err != nil {
		return err
	}
	if err := l.openSegment(); err != nil {
		return err
	}

	l.logger.Info("audit segment rotated",
		"retired", retired,
		"active", filepath.Base(l.path),
	)
	return nil
}

// retireSegment syncs, closes, and compresses the active segment,
// then removes the raw file. A segment with no records is removed
// without compressing. Caller holds l.mu.
func (l *Log) retireSegment() error {
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: syncing segment: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("audit: closing segment: %w", err)
	}

	if l.segmentRecords == 0 {
		if err := os.Remove(l.path); err != nil {
			return fmt.Errorf("audit: removing empty segment: %w", err)
		}
		return nil
	}
	return compressSegment(l.path)
}

// openSegment creates the next active segment. Caller holds l.mu (or
// is Open, before the log escapes).
func (l *Log) openSegment() error {
	name := fmt.Sprintf("audit-%s-%08d.cbor",
		l.clock.Now().UTC().Format(segmentStampFormat), l.sequence+1)
	path := filepath.Join(l.dir, name)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("audit: creating segment: %w", err)
	}

	l.file = file
	l.path = path
	l.previous = Hash{}
	l.segmentRecords = 0
	return nil
}

// recoverSegments handles raw segments left by a crash: each is read
// back (dropping a torn final record), compressed, and removed.
// Returns the highest sequence across all segments, or zero for a
// fresh directory.
func (l *Log) recoverSegments() (uint64, error) {
	raw, compressed, err := listSegments(l.dir)
	if err != nil {
		return 0, err
	}

	var lastSequence uint64

	for _, name := range raw {
		path := filepath.Join(l.dir, name)
		records, goodBytes, torn, err := readRawSegment(path)
		if err != nil {
			return 0, fmt.Errorf("audit: recovering %s: %w", name, err)
		}
		if torn {
			l.logger.Warn("audit segment has a torn final record, dropping it",
				"segment", name,
			)
			if err := os.Truncate(path, goodBytes); err != nil {
				return 0, fmt.Errorf("audit: truncating torn segment: %w", err)
			}
		}

		if len(records) == 0 {
			if err := os.Remove(path); err != nil {
				return 0, fmt.Errorf("audit: removing empty segment: %w", err)
			}
			continue
		}

		if err := compressSegment(path); err != nil {
			return 0, err
		}
		l.logger.Info("audit segment recovered",
			"segment", name,
			"records", len(records),
		)

		if seq := records[len(records)-1].Sequence; seq > lastSequence {
			lastSequence = seq
		}
	}

	if lastSequence > 0 {
		return lastSequence, nil
	}

	// No raw segments carried the sequence: read the newest compressed
	// segment, if any.
	if len(compressed) == 0 {
		return 0, nil
	}
	newest := compressed[len(compressed)-1]
	records, err := ReadSegment(filepath.Join(l.dir, newest))
	if err != nil {
		return 0, fmt.Errorf("audit: reading %s for sequence recovery: %w", newest, err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[len(records)-1].Sequence, nil
}

// listSegments returns the raw and compressed segment names in the
// directory, each sorted by starting sequence.
func listSegments(dir string) (raw, compressed []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("audit: listing segments: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := segmentNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		if match[2] == ".zst" {
			compressed = append(compressed, entry.Name())
		} else {
			raw = append(raw, entry.Name())
		}
	}

	sort.Slice(raw, func(i, j int) bool {
		return segmentStartSequence(raw[i]) < segmentStartSequence(raw[j])
	})
	sort.Slice(compressed, func(i, j int) bool {
		return segmentStartSequence(compressed[i]) < segmentStartSequence(compressed[j])
	})
	return raw, compressed, nil
}

// segmentStartSequence extracts the starting sequence from a segment
// name. The caller has already matched the name against the pattern.
func segmentStartSequence(name string) uint64 {
	match := segmentNamePattern.FindStringSubmatch(name)
	if match == nil {
		return 0
	}
	sequence, err := strconv.ParseUint(match[1], 10, 64)
	if err != nil {
		return 0
	}
	return sequence
}

// compressSegment writes path.zst next to the raw segment and removes
// the raw file. Overwrites a half-written .zst from an earlier crash.
func compressSegment(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("audit: reading segment for compression: %w", err)
	}

	if err := os.WriteFile(path+".zst", zstdEncoder.EncodeAll(data, nil), 0600); err != nil {
		return fmt.Errorf("audit: writing compressed segment: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("audit: removing raw segment: %w", err)
	}
	return nil
}

