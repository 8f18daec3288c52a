// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for bursar components.
//
// Configuration comes from a single YAML file named by either the
// BURSAR_CONFIG environment variable or the --config flag. There is no
// search path and no hidden override: what the file says is what runs.
// The file may carry environment sections (development, staging,
// production) that override base values when the declared environment
// matches, and path values may use ${VAR} / ${VAR:-default} expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the full bursar configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Service configures the ledger service daemon.
	Service ServiceConfig `yaml:"service"`

	// Client configures runtime and CLI connections to the service.
	Client ClientConfig `yaml:"client"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment override sections.
type Overrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Service *ServiceConfig `yaml:"service,omitempty"`
	Client  *ClientConfig  `yaml:"client,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for bursar data.
	Root string `yaml:"root"`

	// State is where the service keeps its signing keys, identity,
	// and database.
	State string `yaml:"state"`
}

// ServiceConfig configures the ledger service daemon.
type ServiceConfig struct {
	// SocketPath is the Unix socket the service listens on.
	SocketPath string `yaml:"socket_path"`

	// DatabasePath is the SQLite ledger database file.
	DatabasePath string `yaml:"database_path"`

	// IdentityPath is the age identity file used to unseal provider
	// keys. Created by `bursar keygen`.
	IdentityPath string `yaml:"identity_path"`

	// AuditDir is where audit segments are written.
	AuditDir string `yaml:"audit_dir"`

	// PricingTable is the model pricing file (JSONC). Empty uses the
	// built-in table.
	PricingTable string `yaml:"pricing_table"`

	// DefaultTranche is the budget granted when a handshake does not
	// name an amount, in currency units ("10").
	DefaultTranche string `yaml:"default_tranche"`
}

// ClientConfig configures connections to the ledger service.
type ClientConfig struct {
	// SocketPath is where to reach the service.
	SocketPath string `yaml:"socket_path"`

	// TokenPath is the credential file presented on authenticated
	// actions.
	TokenPath string `yaml:"token_path"`

	// SpoolDir is where undeliverable usage reports are spooled.
	SpoolDir string `yaml:"spool_dir"`
}

// Default returns the base configuration merged under the loaded file.
// The file is still required — these exist so every field has a sane
// zero configuration, not as a substitute for one.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "bursar")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  root,
			State: filepath.Join(root, "state"),
		},
		Service: ServiceConfig{
			SocketPath:     "/run/bursar/ledger.sock",
			DatabasePath:   filepath.Join(root, "state", "ledger.db"),
			IdentityPath:   filepath.Join(root, "state", "vault-identity"),
			AuditDir:       filepath.Join(root, "audit"),
			DefaultTranche: "10",
		},
		Client: ClientConfig{
			SocketPath: "/run/bursar/ledger.sock",
			TokenPath:  filepath.Join(root, "credential"),
			SpoolDir:   filepath.Join(root, "spool"),
		},
	}
}

// Load reads the file named by BURSAR_CONFIG. Fails if the variable is
// unset — there is deliberately no fallback.
func Load() (*Config, error) {
	path := os.Getenv("BURSAR_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("BURSAR_CONFIG environment variable not set; " +
			"point it at your bursar.yaml, or pass --config")
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path, applies the matching
// environment overrides, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyOverrides merges the section matching cfg.Environment.
func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		setIfPresent(&c.Paths.Root, overrides.Paths.Root)
		setIfPresent(&c.Paths.State, overrides.Paths.State)
	}
	if overrides.Service != nil {
		setIfPresent(&c.Service.SocketPath, overrides.Service.SocketPath)
		setIfPresent(&c.Service.DatabasePath, overrides.Service.DatabasePath)
		setIfPresent(&c.Service.IdentityPath, overrides.Service.IdentityPath)
		setIfPresent(&c.Service.AuditDir, overrides.Service.AuditDir)
		setIfPresent(&c.Service.PricingTable, overrides.Service.PricingTable)
		setIfPresent(&c.Service.DefaultTranche, overrides.Service.DefaultTranche)
	}
	if overrides.Client != nil {
		setIfPresent(&c.Client.SocketPath, overrides.Client.SocketPath)
		setIfPresent(&c.Client.TokenPath, overrides.Client.TokenPath)
		setIfPresent(&c.Client.SpoolDir, overrides.Client.SpoolDir)
	}
}

func setIfPresent(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in every path
// field. BURSAR_ROOT refers to the configured root, so dependent paths
// can be written relative to it.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"BURSAR_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expand(c.Paths.Root, vars)
	vars["BURSAR_ROOT"] = c.Paths.Root

	for _, field := range []*string{
		&c.Paths.State,
		&c.Service.SocketPath,
		&c.Service.DatabasePath,
		&c.Service.IdentityPath,
		&c.Service.AuditDir,
		&c.Service.PricingTable,
		&c.Client.SocketPath,
		&c.Client.TokenPath,
		&c.Client.SpoolDir,
	} {
		*field = expand(*field, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expand(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, fallback := parts[1], ""
		if len(parts) >= 3 {
			fallback = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration, joining every problem into one
// error.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Service.SocketPath == "" {
		errs = append(errs, fmt.Errorf("service.socket_path is required"))
	}
	if c.Service.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("service.database_path is required"))
	}
	if c.Service.IdentityPath == "" {
		errs = append(errs, fmt.Errorf("service.identity_path is required"))
	}
	if c.Service.AuditDir == "" {
		errs = append(errs, fmt.Errorf("service.audit_dir is required"))
	}
	if c.Service.DefaultTranche != "" {
		if err := validAmount(c.Service.DefaultTranche); err != nil {
			errs = append(errs, fmt.Errorf("service.default_tranche: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validAmount checks a decimal currency amount without importing
// lib/money (config stays a leaf package).
var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,6})?$`)

func validAmount(s string) error {
	if !amountPattern.MatchString(s) {
		return fmt.Errorf("%q is not a positive decimal amount", s)
	}
	return nil
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, dir := range []string{
		c.Paths.Root,
		c.Paths.State,
		c.Service.AuditDir,
		c.Client.SpoolDir,
	} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
