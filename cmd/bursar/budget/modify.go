// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	"github.com/bursar-io/bursar/lib/money"
	schema "github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/service"
)

type modifyParams struct {
	cli.Connection
	budget string
	reason string
	force  bool
}

func modifyCommand() *cli.Command {
	var params modifyParams

	return &cli.Command{
		Name:    "modify",
		Summary: "Change an agent's total budget",
		Description: `Set an agent's total budget. Increases apply immediately. A decrease
that would cut into money already spent or leased out is refused with
an impact preview; rerun with --force to apply it. Even forced,
the total cannot drop below the spent-plus-outstanding floor. On a
terminal, --force asks for confirmation after showing the impact.`,
		Usage: "bursar budget modify <agent-id> --budget <amount> --reason <text> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("modify", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.budget, "budget", "", "new total budget in currency units (required)")
			flagSet.StringVar(&params.reason, "reason", "", "reason recorded in the modification history (required)")
			flagSet.BoolVar(&params.force, "force", false, "apply a refused decrease")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one agent ID, got %d args", len(args))
			}
			return runModify(&params, args[0])
		},
	}
}

func runModify(params *modifyParams, agentID string) error {
	if params.budget == "" {
		return fmt.Errorf("--budget is required")
	}
	newBudget, err := money.ParseAmount(params.budget)
	if err != nil {
		return fmt.Errorf("parsing --budget: %w", err)
	}

	client, err := params.Connect()
	if err != nil {
		return err
	}

	// First attempt without force, so a decrease surfaces its impact
	// preview before anything changes.
	response, err := callModify(client, agentID, newBudget, params.reason, false)
	if err != nil {
		var serviceErr *service.ServiceError
		if !errors.As(err, &serviceErr) || !strings.Contains(serviceErr.Message, "decrease requires confirmation") {
			return err
		}
		if !params.force {
			return fmt.Errorf("%s\n\nRerun with --force to apply the decrease.", serviceErr.Message)
		}
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Println(serviceErr.Message)
			if !confirm(fmt.Sprintf("apply this decrease to %s?", agentID)) {
				return fmt.Errorf("aborted")
			}
		}
		response, err = callModify(client, agentID, newBudget, params.reason, true)
		if err != nil {
			return err
		}
	}

	fmt.Printf("modified %s\n", response.AgentID)
	fmt.Printf("  previous:  %s\n", response.PreviousBudget)
	fmt.Printf("  new total: %s\n", response.NewBudget)
	fmt.Printf("  remaining: %s\n", response.Remaining)
	return nil
}

func callModify(client *service.ServiceClient, agentID string, newBudget money.Micros, reason string, force bool) (*schema.ModifyResponse, error) {
	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.ModifyResponse
	err := client.Call(ctx, schema.ActionBudgetModify, map[string]any{
		"agent_id":   agentID,
		"new_budget": int64(newBudget),
		"reason":     reason,
		"force":      force,
	}, &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// confirm asks a yes/no question on the terminal. Anything but "y" or
// "yes" declines.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
