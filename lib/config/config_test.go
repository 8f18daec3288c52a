// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bursar.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: development
paths:
  root: /srv/bursar
service:
  socket_path: /run/bursar/ledger.sock
  database_path: ${BURSAR_ROOT}/ledger.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Root != "/srv/bursar" {
		t.Errorf("Root = %q", cfg.Paths.Root)
	}
	if cfg.Service.DatabasePath != "/srv/bursar/ledger.db" {
		t.Errorf("DatabasePath = %q, want expansion of BURSAR_ROOT", cfg.Service.DatabasePath)
	}
	// Unset fields keep their defaults.
	if cfg.Service.DefaultTranche != "10" {
		t.Errorf("DefaultTranche = %q, want default 10", cfg.Service.DefaultTranche)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
paths:
  root: /srv/bursar
service:
  socket_path: /run/bursar/ledger.sock
production:
  service:
    socket_path: /run/bursar/ledger-prod.sock
staging:
  service:
    socket_path: /run/bursar/ledger-staging.sock
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Service.SocketPath != "/run/bursar/ledger-prod.sock" {
		t.Errorf("SocketPath = %q, want production override", cfg.Service.SocketPath)
	}
}

func TestExpandWithDefault(t *testing.T) {
	t.Setenv("BURSAR_TEST_UNSET_VAR", "")
	path := writeConfig(t, `
paths:
  root: ${BURSAR_TEST_UNSET_VAR:-/fallback/root}
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Root != "/fallback/root" {
		t.Errorf("Root = %q, want fallback", cfg.Paths.Root)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	cfg.Environment = "pre-prod"
	cfg.Service.SocketPath = ""
	cfg.Service.DefaultTranche = "ten"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config passed validation")
	}
	for _, fragment := range []string{"invalid environment", "socket_path", "default_tranche"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q missing %q", err, fragment)
		}
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("BURSAR_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without BURSAR_CONFIG succeeded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile of missing file succeeded")
	}
}

func TestEnsurePaths(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.Paths.Root = filepath.Join(base, "root")
	cfg.Paths.State = filepath.Join(base, "root", "state")
	cfg.Service.AuditDir = filepath.Join(base, "root", "audit")
	cfg.Client.SpoolDir = filepath.Join(base, "root", "spool")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Paths.State, cfg.Service.AuditDir, cfg.Client.SpoolDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
