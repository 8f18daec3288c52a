// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	"github.com/bursar-io/bursar/lib/money"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
)

type enrollParams struct {
	cli.Connection
	displayName    string
	project        string
	organization   string
	budget         string
	credentialFile string
}

func enrollCommand() *cli.Command {
	var params enrollParams

	return &cli.Command{
		Name:    "enroll",
		Summary: "Enroll an agent and mint its credential",
		Description: `Register an agent with an initial budget. The service mints the
agent's signed credential exactly once, at enrollment; it is written
to --credential-file (mode 0600) and cannot be recovered later.
Losing the file means archiving and re-enrolling.

Project and organization default to the agent ID hierarchy
(org/project/name or org/name).`,
		Usage: "bursar agent enroll <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("enroll", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.displayName, "display-name", "", "human-readable agent name")
			flagSet.StringVar(&params.project, "project", "", "project grouping for rollups")
			flagSet.StringVar(&params.organization, "org", "", "organization grouping for rollups")
			flagSet.StringVar(&params.budget, "budget", "0", "initial budget in currency units (e.g. \"100\" or \"12.50\")")
			flagSet.StringVar(&params.credentialFile, "credential-file", "", "where to write the minted credential (required)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Enroll with an explicit project and organization",
				Command:     "bursar agent enroll acme/ingest-worker --budget 100 --project atlas --org acme --credential-file ./worker.cred",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent ID, got %d args", len(args))
			}
			return runEnroll(&params, args[0])
		},
	}
}

func runEnroll(params *enrollParams, agentID string) error {
	if params.credentialFile == "" {
		return fmt.Errorf("--credential-file is required: the credential is minted once and cannot be recovered")
	}
	initialBudget, err := money.ParseAmount(params.budget)
	if err != nil {
		return fmt.Errorf("parsing --budget: %w", err)
	}

	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.AgentEnrollResponse
	err = client.Call(ctx, schema.ActionAgentEnroll, map[string]any{
		"agent_id":       agentID,
		"display_name":   params.displayName,
		"project":        params.project,
		"organization":   params.organization,
		"initial_budget": int64(initialBudget),
	}, &response)
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", agentID, err)
	}

	if err := os.WriteFile(params.credentialFile, response.Credential, 0o600); err != nil {
		return fmt.Errorf("writing credential to %s: %w (agent %s is enrolled; archive and re-enroll to mint a new credential)",
			params.credentialFile, err, agentID)
	}

	fmt.Printf("enrolled %s\n", response.Agent.AgentID)
	fmt.Printf("  project:       %s/%s\n", response.Agent.Organization, response.Agent.Project)
	fmt.Printf("  budget:        %s\n", initialBudget)
	fmt.Printf("  credential id: %s\n", response.CredentialID)
	fmt.Printf("  credential:    %s\n", params.credentialFile)
	return nil
}
