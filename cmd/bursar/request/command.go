// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package request implements the "bursar request" command group: the
// budget change request workflow.
package request

import "github.com/bursar-io/bursar/cmd/bursar/cli"

// Command returns the "request" subcommand group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "request",
		Summary: "Budget change request workflow",
		Description: `Commands for the change request workflow. Agents (or operators on
their behalf) open increase requests with a justification; reviewers
approve or reject them. Approval applies the new budget in the same
transaction, so an approved request is already in effect.`,
		Subcommands: []*cli.Command{
			createCommand(),
			listCommand(),
			showCommand(),
			approveCommand(),
			rejectCommand(),
			cancelCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Open an increase request for an agent",
				Command:     "bursar request create acme/ingest-worker --budget 200 --justification \"reprocessing the full archive after the schema fix\"",
			},
			{
				Description: "List requests awaiting review",
				Command:     "bursar request list --status pending",
			},
			{
				Description: "Approve at a lower amount than requested",
				Command:     "bursar request approve breq-0011223344556677 --budget 150 --notes \"phased increase\"",
			},
		},
	}
}
