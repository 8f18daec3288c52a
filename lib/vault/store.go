// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/sqlitepool"
)

// ErrKeyNotFound is returned when a key ID names no stored provider
// key, or names one that is disabled.
var ErrKeyNotFound = errors.New("vault: provider key not found")

// ErrNoProviderKey is returned when a provider has no enabled key to
// issue from.
var ErrNoProviderKey = errors.New("vault: no enabled key for provider")

// storeSchema creates the provider key table. The sealed_key column
// is age ciphertext; nothing in this table is ever plaintext key
// material. Timestamps are unix seconds.
const storeSchema = `
	CREATE TABLE IF NOT EXISTS provider_keys (
		key_id       TEXT PRIMARY KEY,
		provider     TEXT NOT NULL,
		sealed_key   TEXT NOT NULL,
		masked_hint  TEXT NOT NULL DEFAULT '',
		enabled      INTEGER NOT NULL DEFAULT 1,
		created_at   INTEGER NOT NULL,
		last_used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_provider_keys_provider
		ON provider_keys(provider, enabled);
`

// Store persists sealed provider keys in SQLite. It shares the
// service's connection pool with the ledger; the table is created on
// construction if absent.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoredKey is a provider key row with its at-rest ciphertext, as
// selected for a handshake. Listings use budget.VaultKey instead,
// which never carries the ciphertext.
type StoredKey struct {
	KeyID     string
	Provider  string
	SealedKey string
}

// NewStore creates the provider key store on a shared pool, running
// the table DDL if needed.
func NewStore(pool *sqlitepool.Pool, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if clk == nil {
		return nil, fmt.Errorf("vault store: Clock is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("vault store: Logger is required")
	}

	conn, err := pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("vault store: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, storeSchema, nil); err != nil {
		return nil, fmt.Errorf("vault store: creating schema: %w", err)
	}

	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

// PutKey stores a sealed provider key. Reusing a key ID replaces the
// ciphertext and hint and re-enables the key; the original created_at
// is kept.
func (s *Store) PutKey(ctx context.Context, put *budget.VaultPut) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("vault store: put key: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO provider_keys (key_id, provider, sealed_key, masked_hint, enabled, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(key_id) DO UPDATE SET
			provider = excluded.provider,
			sealed_key = excluded.sealed_key,
			masked_hint = excluded.masked_hint,
			enabled = 1`,
		&sqlitex.ExecOptions{
			Args: []any{put.KeyID, put.Provider, put.SealedKey, put.MaskedHint, s.clock.Now().Unix()},
		})
	if err != nil {
		return fmt.Errorf("vault store: put key: %w", err)
	}

	s.logger.Info("provider key stored",
		"provider", put.Provider,
		"key_id", put.KeyID,
	)
	return nil
}

// ListKeys returns provider keys, newest first, optionally filtered
// by provider. The ciphertext never appears in listings.
func (s *Store) ListKeys(ctx context.Context, provider string) ([]budget.VaultKey, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault store: list keys: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT key_id, provider, masked_hint, enabled, created_at, last_used_at
		FROM provider_keys`
	var args []any
	if provider != "" {
		query += " WHERE provider = ?"
		args = append(args, provider)
	}
	query += " ORDER BY created_at DESC, key_id"

	var keys []budget.VaultKey
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keys = append(keys, budget.VaultKey{
				KeyID:      stmt.ColumnText(0),
				Provider:   stmt.ColumnText(1),
				MaskedHint: stmt.ColumnText(2),
				Enabled:    stmt.ColumnInt(3) != 0,
				CreatedAt:  stmt.ColumnInt64(4),
				LastUsedAt: stmt.ColumnInt64(5),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vault store: list keys: %w", err)
	}
	return keys, nil
}

// DisableKey retires a provider key. New handshakes stop selecting
// it; leases already holding a sealed copy are unaffected. Returns
// ErrKeyNotFound if the key ID is unknown.
func (s *Store) DisableKey(ctx context.Context, keyID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("vault store: disable key: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "UPDATE provider_keys SET enabled = 0 WHERE key_id = ?",
		&sqlitex.ExecOptions{Args: []any{keyID}})
	if err != nil {
		return fmt.Errorf("vault store: disable key: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	s.logger.Info("provider key disabled", "key_id", keyID)
	return nil
}

// SelectKey picks the key a handshake will issue from and records the
// use. An explicit keyID must name an enabled key for the provider
// (ErrKeyNotFound otherwise); an empty keyID picks the provider's
// newest enabled key (ErrNoProviderKey when there is none).
func (s *Store) SelectKey(ctx context.Context, provider, keyID string) (StoredKey, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return StoredKey{}, fmt.Errorf("vault store: select key: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT key_id, provider, sealed_key FROM provider_keys
		WHERE provider = ? AND enabled = 1`
	args := []any{provider}
	if keyID != "" {
		query += " AND key_id = ?"
		args = append(args, keyID)
	}
	query += " ORDER BY created_at DESC, key_id LIMIT 1"

	var selected StoredKey
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			selected = StoredKey{
				KeyID:     stmt.ColumnText(0),
				Provider:  stmt.ColumnText(1),
				SealedKey: stmt.ColumnText(2),
			}
			return nil
		},
	})
	if err != nil {
		return StoredKey{}, fmt.Errorf("vault store: select key: %w", err)
	}
	if selected.KeyID == "" {
		if keyID != "" {
			return StoredKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}
		return StoredKey{}, fmt.Errorf("%w: %s", ErrNoProviderKey, provider)
	}

	err = sqlitex.Execute(conn, "UPDATE provider_keys SET last_used_at = ? WHERE key_id = ?",
		&sqlitex.ExecOptions{Args: []any{s.clock.Now().Unix(), selected.KeyID}})
	if err != nil {
		return StoredKey{}, fmt.Errorf("vault store: recording key use: %w", err)
	}

	return selected, nil
}
