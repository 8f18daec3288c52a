// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bursar-io/bursar/lib/sealed"
	"github.com/bursar-io/bursar/lib/secret"
)

// identityFile is the name of the age identity file inside the
// service state directory.
const identityFile = "vault.key"

// LoadOrCreateIdentity returns the service's vault identity, reading
// stateDir/vault.key if present and generating (and persisting) a
// fresh identity otherwise. The file holds the bare
// AGE-SECRET-KEY-1... line, mode 0600.
//
// Losing the identity file orphans every sealed provider key, so the
// generated path logs the recipient for the operator to record. The
// caller must Close the returned keypair.
func LoadOrCreateIdentity(stateDir string, logger *slog.Logger) (*sealed.Keypair, error) {
	path := filepath.Join(stateDir, identityFile)

	privateKey, err := secret.ReadFromPath(path)
	switch {
	case err == nil:
		publicKey, parseErr := sealed.ParsePrivateKey(privateKey)
		if parseErr != nil {
			privateKey.Close()
			return nil, fmt.Errorf("vault identity at %s: %w", path, parseErr)
		}
		return &sealed.Keypair{PrivateKey: privateKey, PublicKey: publicKey}, nil

	case errors.Is(err, fs.ErrNotExist):
		// First boot: fall through to generation.

	default:
		return nil, fmt.Errorf("reading vault identity from %s: %w", path, err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := writeIdentity(path, keypair.PrivateKey); err != nil {
		keypair.Close()
		return nil, err
	}

	logger.Info("vault identity generated",
		"path", path,
		"recipient", keypair.PublicKey,
	)
	return keypair, nil
}

// writeIdentity persists the private key with owner-only permissions.
// The write goes through a heap copy that is zeroed immediately after;
// the guarded buffer remains the durable in-process copy.
func writeIdentity(path string, privateKey *secret.Buffer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating state directory for vault identity: %w", err)
	}

	line := make([]byte, privateKey.Len()+1)
	copy(line, privateKey.Bytes())
	line[len(line)-1] = '\n'

	writeError := os.WriteFile(path, line, 0600)
	secret.Zero(line)

	if writeError != nil {
		return fmt.Errorf("writing vault identity to %s: %w", path, writeError)
	}
	return nil
}
