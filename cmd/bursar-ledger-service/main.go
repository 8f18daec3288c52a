// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/audit"
	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/config"
	"github.com/bursar-io/bursar/lib/ledger"
	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/pricing"
	"github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/sealed"
	"github.com/bursar-io/bursar/lib/secret"
	"github.com/bursar-io/bursar/lib/service"
	"github.com/bursar-io/bursar/lib/sqlitepool"
	"github.com/bursar-io/bursar/lib/vault"
	"github.com/bursar-io/bursar/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		verbose     bool
		showVersion bool
	)

	pflag.StringVar(&configPath, "config", "", "configuration file (default: $BURSAR_CONFIG)")
	pflag.StringVar(&socketPath, "socket", "", "override the configured socket path")
	pflag.BoolVar(&verbose, "verbose", false, "log at debug level")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("bursar-ledger-service %s\n", version.Info())
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := service.NewLogger(level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	if socketPath == "" {
		socketPath = cfg.Service.SocketPath
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Service.DatabasePath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening ledger database: %w", err)
	}
	defer pool.Close()

	// The age identity that seals provider keys at rest. The private
	// half goes straight into guarded memory and is owned by the vault
	// from here.
	identity, err := loadIdentity(cfg.Service.IdentityPath)
	if err != nil {
		return err
	}
	keyVault, err := vault.New(identity)
	if err != nil {
		return err
	}
	defer keyVault.Close()
	logger.Info("vault identity loaded", "recipient", keyVault.Recipient())

	keys, err := vault.NewStore(pool, clock.Real(), logger)
	if err != nil {
		return err
	}

	// The Ed25519 keypair that mints and verifies credentials. Created
	// on first start; losing it invalidates every issued credential.
	publicKey, privateKey, generated, err := agenttoken.LoadOrGenerateKeypair(cfg.Paths.State)
	if err != nil {
		return fmt.Errorf("loading signing keypair: %w", err)
	}
	if generated {
		logger.Info("generated credential signing keypair", "state_dir", cfg.Paths.State)
	}

	auditLog, err := audit.Open(audit.Config{
		Dir:    cfg.Service.AuditDir,
		Clock:  clock.Real(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			logger.Error("closing audit log", "error", err)
		}
	}()

	prices, err := loadPricing(cfg.Service.PricingTable)
	if err != nil {
		return err
	}

	var defaultTranche money.Micros
	if cfg.Service.DefaultTranche != "" {
		defaultTranche, err = money.ParseAmount(cfg.Service.DefaultTranche)
		if err != nil {
			return fmt.Errorf("invalid default_tranche: %w", err)
		}
	}

	revocations := agenttoken.NewRevocations()
	ledgerService, err := ledger.New(ledger.Config{
		Pool:           pool,
		Vault:          keyVault,
		Keys:           keys,
		SigningKey:     privateKey,
		Audit:          auditLog,
		Revocations:    revocations,
		DefaultTranche: defaultTranche,
		Clock:          clock.Real(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	clk := clock.Real()
	server := service.NewSocketServer(socketPath, logger, &service.AuthConfig{
		PublicKey:   publicKey,
		Audience:    budget.Audience,
		Revocations: revocations,
		Clock:       clk,
	})

	daemon := &ledgerDaemon{
		ledger:    ledgerService,
		keys:      keys,
		recipient: keyVault.Recipient(),
		pricing:   prices,
		clock:     clk,
		startedAt: clk.Now(),
		logger:    logger,
	}
	daemon.registerActions(server)
	server.RegisterRevocationHandler()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	logger.Info("ledger service running",
		"socket", socketPath,
		"database", cfg.Service.DatabasePath,
		"pricing_models", len(prices.Models()))

	<-ctx.Done()
	logger.Info("shutting down")

	// Serve stops accepting on cancellation and drains in-flight
	// requests before returning.
	if err := <-serveDone; err != nil {
		return fmt.Errorf("socket server: %w", err)
	}
	return nil
}

// loadConfig reads the file named by --config, falling back to the
// BURSAR_CONFIG environment variable.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// loadIdentity reads the age identity file into guarded memory and
// derives its recipient. The file is created by `bursar keygen`.
func loadIdentity(path string) (*sealed.Keypair, error) {
	privateKey, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault identity %s (run `bursar keygen` first): %w", path, err)
	}
	publicKey, err := sealed.ParsePrivateKey(privateKey)
	if err != nil {
		privateKey.Close()
		return nil, fmt.Errorf("parsing vault identity %s: %w", path, err)
	}
	return &sealed.Keypair{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// loadPricing reads the configured pricing table, or the built-in one
// when no file is configured.
func loadPricing(path string) (*pricing.Table, error) {
	if path == "" {
		return pricing.Builtin(), nil
	}
	table, err := pricing.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading pricing table: %w", err)
	}
	return table, nil
}
