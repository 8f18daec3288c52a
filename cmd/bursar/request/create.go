// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	"github.com/bursar-io/bursar/lib/money"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
)

type createParams struct {
	cli.Connection
	budget        string
	justification string
}

func createCommand() *cli.Command {
	var params createParams

	return &cli.Command{
		Name:    "create",
		Summary: "Open a budget increase request",
		Description: `Open a change request for an agent. Requests are increase-only: the
requested budget must exceed the agent's current total, and the
justification is what reviewers see, so make it say why the work
needs the money.`,
		Usage: "bursar request create <agent-id> --budget <amount> --justification <text> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.budget, "budget", "", "requested total budget in currency units (required)")
			flagSet.StringVar(&params.justification, "justification", "", "why the increase is needed (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent ID, got %d args", len(args))
			}
			return runCreate(&params, args[0])
		},
	}
}

func runCreate(params *createParams, agentID string) error {
	if params.budget == "" {
		return fmt.Errorf("--budget is required")
	}
	requested, err := money.ParseAmount(params.budget)
	if err != nil {
		return fmt.Errorf("parsing --budget: %w", err)
	}

	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var created schema.ChangeRequest
	err = client.Call(ctx, schema.ActionRequestCreate, map[string]any{
		"agent_id":         agentID,
		"requested_budget": int64(requested),
		"justification":    params.justification,
	}, &created)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", agentID, err)
	}

	fmt.Printf("created %s\n", created.ID)
	fmt.Printf("  agent:     %s\n", created.AgentID)
	fmt.Printf("  current:   %s\n", created.SnapshotBudget)
	fmt.Printf("  requested: %s\n", created.RequestedBudget)
	return nil
}
