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

type historyParams struct {
	cli.Connection
	limit int64
}

func historyCommand() *cli.Command {
	var params historyParams

	return &cli.Command{
		Name:    "history",
		Summary: "Show an agent's budget modification history",
		Usage:   "bursar budget history <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.Int64Var(&params.limit, "limit", 0, "maximum entries to show (0 = all)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent ID, got %d args", len(args))
			}
			return runHistory(&params, args[0])
		},
	}
}

func runHistory(params *historyParams, agentID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.HistoryResponse
	err = client.Call(ctx, schema.ActionBudgetHistory, map[string]any{
		"agent_id": agentID,
		"limit":    params.limit,
	}, &response)
	if err != nil {
		return fmt.Errorf("fetching history for %s: %w", agentID, err)
	}

	if len(response.Modifications) == 0 {
		fmt.Println("no modifications")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tFROM\tTO\tACTOR\tREASON")
	for _, modification := range response.Modifications {
		when := time.Unix(modification.CreatedAt, 0).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			when, modification.Kind,
			modification.PreviousBudget, modification.NewBudget,
			modification.Actor, modification.Reason)
	}
	return tw.Flush()
}
