// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
)

type archiveParams struct {
	cli.Connection
}

func archiveCommand() *cli.Command {
	var params archiveParams

	return &cli.Command{
		Name:    "archive",
		Summary: "Archive an agent and revoke its credential",
		Description: `Archive an agent. Its credential is revoked immediately, any active
lease is settled at its reported spend with the remainder returned,
and pending change requests are cancelled. Spend history is retained.

Archival is terminal; a returning agent is enrolled under a fresh
credential.`,
		Usage: "bursar agent archive <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("archive", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent ID, got %d args", len(args))
			}
			return runArchive(&params, args[0])
		},
	}
}

func runArchive(params *archiveParams, agentID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.AgentArchiveResponse
	err = client.Call(ctx, schema.ActionAgentArchive, map[string]any{
		"agent_id": agentID,
	}, &response)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", agentID, err)
	}

	fmt.Printf("archived %s\n", agentID)
	if response.SettledLeaseID != "" {
		fmt.Printf("  settled lease:      %s (returned %s)\n", response.SettledLeaseID, response.Returned)
	}
	if response.CancelledRequests > 0 {
		fmt.Printf("  cancelled requests: %d\n", response.CancelledRequests)
	}
	return nil
}
