// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package leaseclient

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/bursar-io/bursar/lib/codec"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// spoolSuffix marks spooled report files: lz4-framed CBOR, one report
// per file. One file per report keeps replay idempotent: a report is
// deleted exactly when the service has acknowledged it.
const spoolSuffix = ".cbor.lz4"

// spool is the on-disk holding area for undeliverable usage reports.
type spool struct {
	dir string
}

func openSpool(dir string) (*spool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("leaseclient: creating spool directory: %w", err)
	}
	return &spool{dir: dir}, nil
}

// fileName derives a stable name for a report from its identity. The
// (lease_id, request_id) pair is the ledger's idempotency key, so
// spooling the same report twice overwrites rather than duplicates.
func (sp *spool) fileName(report budget.UsageReport) string {
	digest := blake3.Sum256([]byte(report.LeaseID + "\x00" + report.RequestID))
	return hex.EncodeToString(digest[:16]) + spoolSuffix
}

// write persists one report.
func (sp *spool) write(report budget.UsageReport) error {
	encoded, err := codec.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	var compressed bytes.Buffer
	writer := lz4.NewWriter(&compressed)
	if _, err := writer.Write(encoded); err != nil {
		return fmt.Errorf("compressing report: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("compressing report: %w", err)
	}

	path := filepath.Join(sp.dir, sp.fileName(report))
	temp := path + ".tmp"
	if err := os.WriteFile(temp, compressed.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing spool file: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("placing spool file: %w", err)
	}
	return nil
}

// spoolEntry pairs a decoded report with the file it came from.
type spoolEntry struct {
	path   string
	report budget.UsageReport
}

// list decodes every spooled report, oldest first by name. Files that
// fail to decode are renamed aside rather than deleted: a corrupt
// spool entry is evidence, not garbage.
func (sp *spool) list() ([]spoolEntry, error) {
	dirEntries, err := os.ReadDir(sp.dir)
	if err != nil {
		return nil, fmt.Errorf("reading spool directory: %w", err)
	}

	var names []string
	for _, entry := range dirEntries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".tmp" {
			continue
		}
		if len(entry.Name()) > len(spoolSuffix) &&
			entry.Name()[len(entry.Name())-len(spoolSuffix):] == spoolSuffix {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var entries []spoolEntry
	for _, name := range names {
		path := filepath.Join(sp.dir, name)
		report, err := readSpoolFile(path)
		if err != nil {
			os.Rename(path, path+".corrupt")
			continue
		}
		entries = append(entries, spoolEntry{path: path, report: report})
	}
	return entries, nil
}

// remove deletes a delivered spool file.
func (sp *spool) remove(path string) {
	os.Remove(path)
}

// count returns how many reports are spooled.
func (sp *spool) count() (int, error) {
	entries, err := sp.list()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func readSpoolFile(path string) (budget.UsageReport, error) {
	var report budget.UsageReport

	compressed, err := os.ReadFile(path)
	if err != nil {
		return report, err
	}
	decoded, err := io.ReadAll(lz4.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return report, fmt.Errorf("decompressing %s: %w", path, err)
	}
	if err := codec.Unmarshal(decoded, &report); err != nil {
		return report, fmt.Errorf("decoding %s: %w", path, err)
	}
	return report, nil
}
