// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package keygen implements "bursar keygen", which creates the
// service's vault identity.
package keygen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	"github.com/bursar-io/bursar/lib/config"
	"github.com/bursar-io/bursar/lib/sealed"
)

type keygenParams struct {
	output string
}

// Command returns the "keygen" command.
func Command() *cli.Command {
	var params keygenParams

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate the service's vault identity",
		Description: `Generate the age identity the ledger service unseals provider keys
with. The private key is written to the identity path (mode 0600);
point the service's identity_path at it. Run once per deployment,
before the service first starts.

The printed public key is informational: "bursar vault put" fetches
the sealing recipient from the running service, never from here.`,
		Usage: "bursar keygen [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&params.output, "output", config.Default().Service.IdentityPath, "where to write the private identity")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runKeygen(&params)
		},
	}
}

func runKeygen(params *keygenParams) error {
	if _, err := os.Stat(params.output); err == nil {
		return fmt.Errorf("%s already exists; refusing to overwrite a vault identity (keys sealed to it would become unreadable)", params.output)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}
	defer keypair.Close()

	if err := os.MkdirAll(filepath.Dir(params.output), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(params.output), err)
	}
	if err := os.WriteFile(params.output, keypair.PrivateKey.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}

	fmt.Printf("wrote vault identity to %s\n", params.output)
	fmt.Printf("public key: %s\n", keypair.PublicKey)
	return nil
}
