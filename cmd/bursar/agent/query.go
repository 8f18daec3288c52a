// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
)

type listParams struct {
	cli.Connection
	project string
	status  string
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List enrolled agents",
		Usage:   "bursar agent list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.project, "project", "", "filter by project")
			flagSet.StringVar(&params.status, "status", "", "filter by status (active, archived)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runList(&params)
		},
	}
}

func runList(params *listParams) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.AgentListResponse
	err = client.Call(ctx, schema.ActionAgentList, map[string]any{
		"project": params.project,
		"status":  params.status,
	}, &response)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	if len(response.Agents) == 0 {
		fmt.Println("no agents")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tNAME\tPROJECT\tORG\tSTATUS")
	for _, agent := range response.Agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			agent.AgentID, agent.DisplayName, agent.Project, agent.Organization, agent.Status)
	}
	return tw.Flush()
}

type showParams struct {
	cli.Connection
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Show an agent with its budget statement",
		Usage:   "bursar agent show <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent ID, got %d args", len(args))
			}
			return runShow(&params, args[0])
		},
	}
}

func runShow(params *showParams, agentID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.AgentShowResponse
	err = client.Call(ctx, schema.ActionAgentShow, map[string]any{
		"agent_id": agentID,
	}, &response)
	if err != nil {
		return fmt.Errorf("fetching agent %s: %w", agentID, err)
	}

	agent := response.Agent
	statement := response.Budget
	fmt.Printf("%s (%s)\n", agent.AgentID, agent.Status)
	if agent.DisplayName != "" {
		fmt.Printf("  name:         %s\n", agent.DisplayName)
	}
	fmt.Printf("  project:      %s/%s\n", agent.Organization, agent.Project)
	fmt.Printf("  enrolled:     %s\n", time.Unix(agent.CreatedAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  total:        %s\n", statement.Total)
	fmt.Printf("  spent:        %s\n", statement.Spent)
	fmt.Printf("  outstanding:  %s\n", statement.Outstanding)
	fmt.Printf("  remaining:    %s\n", statement.Remaining)
	if statement.ActiveLeaseID != "" {
		fmt.Printf("  active lease: %s\n", statement.ActiveLeaseID)
	}
	return nil
}
