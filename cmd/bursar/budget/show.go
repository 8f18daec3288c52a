// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
)

type showParams struct {
	cli.Connection
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Show an agent's budget statement",
		Usage:   "bursar budget show <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent ID, got %d args", len(args))
			}
			return runShowStatement(&params, args[0])
		},
	}
}

func runShowStatement(params *showParams, agentID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var statement schema.Statement
	err = client.Call(ctx, schema.ActionBudgetShow, map[string]any{
		"agent_id": agentID,
	}, &statement)
	if err != nil {
		return fmt.Errorf("fetching budget for %s: %w", agentID, err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "agent\t%s\n", statement.AgentID)
	fmt.Fprintf(tw, "total\t%s\n", statement.Total)
	fmt.Fprintf(tw, "spent\t%s\n", statement.Spent)
	fmt.Fprintf(tw, "outstanding\t%s\n", statement.Outstanding)
	fmt.Fprintf(tw, "remaining\t%s\n", statement.Remaining)
	if statement.ActiveLeaseID != "" {
		fmt.Fprintf(tw, "active lease\t%s\n", statement.ActiveLeaseID)
	}
	fmt.Fprintf(tw, "updated\t%s\n", time.Unix(statement.UpdatedAt, 0).UTC().Format(time.RFC3339))
	return tw.Flush()
}
