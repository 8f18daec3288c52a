// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bursar-io/bursar/lib/clock"
	"github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/sqlitepool"
)

// storeEpoch is the fixed time the fake clock starts at in store
// tests.
var storeEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "vault.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("sqlitepool.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	fakeClock := clock.Fake(storeEpoch)
	store, err := NewStore(pool, fakeClock, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, fakeClock
}

func putTestKey(t *testing.T, store *Store, provider, keyID string) {
	t.Helper()
	err := store.PutKey(context.Background(), &budget.VaultPut{
		Provider:   provider,
		KeyID:      keyID,
		SealedKey:  "age-ciphertext-for-" + keyID,
		MaskedHint: "sk-a...xyz",
	})
	if err != nil {
		t.Fatalf("PutKey(%s): %v", keyID, err)
	}
}

func TestPutAndListKeys(t *testing.T) {
	store, fakeClock := testStore(t)
	ctx := context.Background()

	putTestKey(t, store, "anthropic", "anthropic-primary")
	fakeClock.Advance(time.Hour)
	putTestKey(t, store, "openai", "openai-primary")

	keys, err := store.ListKeys(ctx, "")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("listed %d keys, want 2", len(keys))
	}

	// Newest first.
	if keys[0].KeyID != "openai-primary" {
		t.Errorf("first key = %s, want openai-primary", keys[0].KeyID)
	}
	if keys[0].CreatedAt != storeEpoch.Add(time.Hour).Unix() {
		t.Errorf("created_at = %d, want %d", keys[0].CreatedAt, storeEpoch.Add(time.Hour).Unix())
	}
	if !keys[0].Enabled {
		t.Error("new key is not enabled")
	}
	if keys[0].MaskedHint != "sk-a...xyz" {
		t.Errorf("masked hint = %q", keys[0].MaskedHint)
	}
	if keys[0].LastUsedAt != 0 {
		t.Errorf("unused key has last_used_at = %d", keys[0].LastUsedAt)
	}
}

func TestListKeysFiltersByProvider(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	putTestKey(t, store, "anthropic", "anthropic-primary")
	putTestKey(t, store, "anthropic", "anthropic-backup")
	putTestKey(t, store, "openai", "openai-primary")

	keys, err := store.ListKeys(ctx, "anthropic")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("listed %d anthropic keys, want 2", len(keys))
	}
	for _, key := range keys {
		if key.Provider != "anthropic" {
			t.Errorf("filtered listing contains provider %s", key.Provider)
		}
	}
}

func TestPutKeyReplacesAndReenables(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	putTestKey(t, store, "anthropic", "anthropic-primary")
	if err := store.DisableKey(ctx, "anthropic-primary"); err != nil {
		t.Fatalf("DisableKey: %v", err)
	}

	err := store.PutKey(ctx, &budget.VaultPut{
		Provider:   "anthropic",
		KeyID:      "anthropic-primary",
		SealedKey:  "age-ciphertext-rotated",
		MaskedHint: "sk-b...abc",
	})
	if err != nil {
		t.Fatalf("PutKey (replace): %v", err)
	}

	selected, err := store.SelectKey(ctx, "anthropic", "anthropic-primary")
	if err != nil {
		t.Fatalf("SelectKey after replace: %v", err)
	}
	if selected.SealedKey != "age-ciphertext-rotated" {
		t.Errorf("sealed key = %q, want rotated ciphertext", selected.SealedKey)
	}

	keys, err := store.ListKeys(ctx, "anthropic")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("listed %d keys after replace, want 1", len(keys))
	}
	if keys[0].MaskedHint != "sk-b...abc" {
		t.Errorf("masked hint = %q, want replacement hint", keys[0].MaskedHint)
	}
}

func TestSelectKeyPicksNewestEnabled(t *testing.T) {
	store, fakeClock := testStore(t)
	ctx := context.Background()

	putTestKey(t, store, "anthropic", "anthropic-old")
	fakeClock.Advance(time.Hour)
	putTestKey(t, store, "anthropic", "anthropic-new")

	selected, err := store.SelectKey(ctx, "anthropic", "")
	if err != nil {
		t.Fatalf("SelectKey: %v", err)
	}
	if selected.KeyID != "anthropic-new" {
		t.Errorf("selected %s, want anthropic-new", selected.KeyID)
	}

	// Disabling the newest falls back to the older key.
	if err := store.DisableKey(ctx, "anthropic-new"); err != nil {
		t.Fatalf("DisableKey: %v", err)
	}
	selected, err = store.SelectKey(ctx, "anthropic", "")
	if err != nil {
		t.Fatalf("SelectKey after disable: %v", err)
	}
	if selected.KeyID != "anthropic-old" {
		t.Errorf("selected %s, want anthropic-old", selected.KeyID)
	}
}

func TestSelectKeyExplicitID(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	putTestKey(t, store, "anthropic", "anthropic-primary")
	putTestKey(t, store, "anthropic", "anthropic-backup")

	selected, err := store.SelectKey(ctx, "anthropic", "anthropic-backup")
	if err != nil {
		t.Fatalf("SelectKey: %v", err)
	}
	if selected.KeyID != "anthropic-backup" {
		t.Errorf("selected %s, want anthropic-backup", selected.KeyID)
	}
	if selected.Provider != "anthropic" {
		t.Errorf("provider = %s, want anthropic", selected.Provider)
	}
}

func TestSelectKeyRecordsUse(t *testing.T) {
	store, fakeClock := testStore(t)
	ctx := context.Background()

	putTestKey(t, store, "anthropic", "anthropic-primary")
	fakeClock.Advance(30 * time.Minute)

	if _, err := store.SelectKey(ctx, "anthropic", ""); err != nil {
		t.Fatalf("SelectKey: %v", err)
	}

	keys, err := store.ListKeys(ctx, "anthropic")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	want := storeEpoch.Add(30 * time.Minute).Unix()
	if keys[0].LastUsedAt != want {
		t.Errorf("last_used_at = %d, want %d", keys[0].LastUsedAt, want)
	}
}

func TestSelectKeyErrors(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	putTestKey(t, store, "anthropic", "anthropic-primary")

	if _, err := store.SelectKey(ctx, "openai", ""); !errors.Is(err, ErrNoProviderKey) {
		t.Errorf("SelectKey for unknown provider: %v, want ErrNoProviderKey", err)
	}
	if _, err := store.SelectKey(ctx, "anthropic", "missing-id"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("SelectKey for unknown key ID: %v, want ErrKeyNotFound", err)
	}

	// A disabled key is not selectable even by explicit ID.
	if err := store.DisableKey(ctx, "anthropic-primary"); err != nil {
		t.Fatalf("DisableKey: %v", err)
	}
	if _, err := store.SelectKey(ctx, "anthropic", "anthropic-primary"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("SelectKey for disabled key: %v, want ErrKeyNotFound", err)
	}
	if _, err := store.SelectKey(ctx, "anthropic", ""); !errors.Is(err, ErrNoProviderKey) {
		t.Errorf("SelectKey with all keys disabled: %v, want ErrNoProviderKey", err)
	}
}

func TestDisableKeyUnknown(t *testing.T) {
	store, _ := testStore(t)

	if err := store.DisableKey(context.Background(), "nope"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("DisableKey: %v, want ErrKeyNotFound", err)
	}
}
