// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the bursar command tree.
package commands

import (
	"fmt"

	"github.com/bursar-io/bursar/cmd/bursar/agent"
	"github.com/bursar-io/bursar/cmd/bursar/budget"
	"github.com/bursar-io/bursar/cmd/bursar/cli"
	"github.com/bursar-io/bursar/cmd/bursar/keygen"
	"github.com/bursar-io/bursar/cmd/bursar/request"
	"github.com/bursar-io/bursar/cmd/bursar/rollup"
	"github.com/bursar-io/bursar/cmd/bursar/vault"
	"github.com/bursar-io/bursar/cmd/bursar/watch"
	"github.com/bursar-io/bursar/lib/version"
)

// Root returns the top-level bursar command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "bursar",
		Summary: "Budget lease control plane",
		Description: `bursar administers the budget ledger service: enrolling agents,
setting budgets, reviewing change requests, managing sealed provider
keys, and watching spend live.

Commands talk to the ledger service over its Unix socket and present
the credential named by --token-file (or BURSAR_TOKEN). Agent
runtimes do not use this CLI; they speak the lease protocol through
their enrollment credential.`,
		Subcommands: []*cli.Command{
			agent.Command(),
			budget.Command(),
			request.Command(),
			vault.Command(),
			rollup.Command(),
			watch.Command(),
			keygen.Command(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Enroll an agent with a starting budget",
				Command:     "bursar agent enroll acme/ingest-worker --budget 100 --credential-file ./worker.cred",
			},
			{
				Description: "Review pending budget change requests",
				Command:     "bursar request list --status pending",
			},
			{
				Description: "Watch spend across all agents",
				Command:     "bursar watch",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version and build information",
		Usage:   "bursar version",
		Run: func(args []string) error {
			fmt.Println(version.Info())
			return nil
		},
	}
}
