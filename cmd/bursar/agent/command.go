// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the "bursar agent" command group: agent
// enrollment, listing, inspection, and archival.
package agent

import "github.com/bursar-io/bursar/cmd/bursar/cli"

// Command returns the "agent" subcommand group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "agent",
		Summary: "Agent enrollment and lifecycle",
		Description: `Commands for managing agents in the ledger: enrolling new agents
(which mints their credential and opens their budget), listing and
inspecting enrolled agents, and archiving agents that are done.

Archival is terminal. It revokes the agent's credential, closes any
active lease, and cancels pending change requests. The spend history
stays in the ledger for rollups.`,
		Subcommands: []*cli.Command{
			enrollCommand(),
			listCommand(),
			showCommand(),
			archiveCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Enroll an agent with a 100-unit budget",
				Command:     "bursar agent enroll acme/ingest-worker --budget 100 --credential-file ./worker.cred",
			},
			{
				Description: "List active agents in a project",
				Command:     "bursar agent list --project atlas",
			},
			{
				Description: "Archive a finished agent",
				Command:     "bursar agent archive acme/ingest-worker",
			},
		},
	}
}
