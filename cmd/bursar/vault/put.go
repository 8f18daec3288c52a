// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/sealed"
	"github.com/bursar-io/bursar/lib/secret"
	libvault "github.com/bursar-io/bursar/lib/vault"
)

type putParams struct {
	cli.Connection
	keyID   string
	keyFile string
}

func putCommand() *cli.Command {
	var params putParams

	return &cli.Command{
		Name:    "put",
		Summary: "Seal and store a provider key",
		Description: `Store a provider API key. The key is read from --key-file, or
prompted for without echo on a terminal, and sealed to the service's
vault identity before it leaves this process. Storing a second key
for the same provider makes it the active one; new leases use the
newest enabled key.`,
		Usage: "bursar vault put <provider> --key-id <id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.keyID, "key-id", "", "identifier for this key, e.g. anthropic-2026q3 (required)")
			flagSet.StringVar(&params.keyFile, "key-file", "", "file holding the plaintext key; omit to be prompted")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one provider name, got %d args", len(args))
			}
			return runPut(&params, args[0])
		},
	}
}

func runPut(params *putParams, provider string) error {
	if params.keyID == "" {
		return fmt.Errorf("--key-id is required")
	}

	plaintext, err := readKey(params.keyFile)
	if err != nil {
		return err
	}
	defer plaintext.Close()

	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	// The sealing recipient comes from the service itself, so the key
	// can only ever be opened by the vault identity it names.
	var info schema.InfoResponse
	if err := client.Call(ctx, schema.ActionInfo, nil, &info); err != nil {
		return fmt.Errorf("fetching vault recipient: %w", err)
	}

	ciphertext, err := sealed.Encrypt(plaintext.Bytes(), []string{info.VaultRecipient})
	if err != nil {
		return fmt.Errorf("sealing key: %w", err)
	}

	err = client.Call(ctx, schema.ActionVaultPut, map[string]any{
		"provider":    provider,
		"key_id":      params.keyID,
		"sealed_key":  ciphertext,
		"masked_hint": libvault.Mask(plaintext.String()),
	}, nil)
	if err != nil {
		return fmt.Errorf("storing key %s: %w", params.keyID, err)
	}

	fmt.Printf("stored %s for %s (%s)\n", params.keyID, provider, libvault.Mask(plaintext.String()))
	return nil
}

// readKey loads the plaintext provider key from a file, or prompts
// for it without echo when stdin is a terminal.
func readKey(keyFile string) (*secret.Buffer, error) {
	if keyFile != "" {
		buffer, err := secret.ReadFromPath(keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading --key-file: %w", err)
		}
		return buffer, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("no --key-file and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "provider key: ")
	line, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	defer secret.Zero(line)

	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, fmt.Errorf("empty key")
	}
	return secret.NewFromBytes([]byte(trimmed))
}
