// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package rollup implements the "bursar rollup" command group: spend
// aggregation across projects, providers, and the organization.
package rollup

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
)

// Command returns the "rollup" subcommand group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "rollup",
		Summary: "Spend aggregation reports",
		Description: `Aggregate budgets and spend. Project and organization rollups sum
agent budgets; provider rollups sum usage entries (tokens and cost
per provider), so their budget columns are empty.`,
		Subcommands: []*cli.Command{
			rollupCommand("projects", "Spend by project", schema.ActionRollupProjects, false),
			rollupCommand("providers", "Token spend by provider", schema.ActionRollupProviders, true),
			rollupCommand("org", "Spend by organization", schema.ActionRollupOrganization, false),
		},
		Examples: []cli.Example{
			{
				Description: "Spend by project",
				Command:     "bursar rollup projects",
			},
			{
				Description: "Provider token spend within one project",
				Command:     "bursar rollup providers --project atlas",
			},
		},
	}
}

type rollupParams struct {
	cli.Connection
	project string
}

func rollupCommand(name, summary, action string, byProvider bool) *cli.Command {
	var params rollupParams

	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("bursar rollup %s [flags]", name),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			if byProvider {
				flagSet.StringVar(&params.project, "project", "", "narrow to one project")
			}
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runRollup(&params, action, byProvider)
		},
	}
}

func runRollup(params *rollupParams, action string, byProvider bool) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.RollupResponse
	err = client.Call(ctx, action, map[string]any{
		"project": params.project,
	}, &response)
	if err != nil {
		return fmt.Errorf("fetching rollup: %w", err)
	}

	if len(response.Rows) == 0 {
		fmt.Println("no data")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	if byProvider {
		fmt.Fprintln(tw, "PROVIDER\tSPENT\tTOKENS\tREQUESTS")
		for _, row := range response.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n",
				row.Key, row.TotalSpent, row.Tokens, row.Requests)
		}
	} else {
		fmt.Fprintln(tw, "GROUP\tAGENTS\tBUDGET\tSPENT\tOUTSTANDING\tREMAINING")
		for _, row := range response.Rows {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
				row.Key, row.AgentCount,
				row.TotalBudget, row.TotalSpent, row.Outstanding, row.Remaining)
		}
	}
	return tw.Flush()
}
