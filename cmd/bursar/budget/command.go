// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package budget implements the "bursar budget" command group: budget
// statements, modifications, and history.
package budget

import "github.com/bursar-io/bursar/cmd/bursar/cli"

// Command returns the "budget" subcommand group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "budget",
		Summary: "Budget administration",
		Description: `Commands for inspecting and changing agent budgets. Increases apply
immediately. Decreases are refused with an impact preview; --force
applies one, though never below the spent-plus-outstanding floor.`,
		Subcommands: []*cli.Command{
			showCommand(),
			modifyCommand(),
			historyCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Show an agent's budget statement",
				Command:     "bursar budget show acme/ingest-worker",
			},
			{
				Description: "Raise a budget",
				Command:     "bursar budget modify acme/ingest-worker --budget 250 --reason \"expanded crawl scope\"",
			},
			{
				Description: "Shrink a budget past the refusal, with confirmation",
				Command:     "bursar budget modify acme/ingest-worker --budget 50 --reason \"project wound down\" --force",
			},
		},
	}
}
