// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault implements the "bursar vault" command group: sealed
// provider key management.
package vault

import "github.com/bursar-io/bursar/cmd/bursar/cli"

// Command returns the "vault" subcommand group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "vault",
		Summary: "Provider key management",
		Description: `Commands for the provider key vault. Keys are sealed to the
service's vault identity on this side of the socket, so the
plaintext never travels over the wire and the ledger database never
holds it. The service re-seals a key per lease; agents decrypt only
their own lease's copy.

Keys are never deleted, only disabled: leases already holding a key
run to completion, new leases stop getting it.`,
		Subcommands: []*cli.Command{
			putCommand(),
			listCommand(),
			disableCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Store a provider key, prompting for the secret",
				Command:     "bursar vault put anthropic --key-id anthropic-primary",
			},
			{
				Description: "Rotate: store the replacement, then disable the old key",
				Command:     "bursar vault put anthropic --key-id anthropic-2026q3 --key-file ./key.txt && bursar vault disable anthropic-primary",
			},
		},
	}
}
