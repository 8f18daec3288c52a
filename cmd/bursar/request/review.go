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

type approveParams struct {
	cli.Connection
	budget string
	notes  string
}

func approveCommand() *cli.Command {
	var params approveParams

	return &cli.Command{
		Name:    "approve",
		Summary: "Approve a pending request and apply the budget",
		Description: `Approve a pending change request. The agent's budget is raised in
the same transaction, so the increase is in effect the moment this
returns. --budget approves at a different amount than requested; it
must still exceed the agent's current total.`,
		Usage: "bursar request approve <request-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("approve", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.budget, "budget", "", "approve at this amount instead of the requested one")
			flagSet.StringVar(&params.notes, "notes", "", "review notes shown to the requester")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one request ID, got %d args", len(args))
			}
			return runApprove(&params, args[0])
		},
	}
}

func runApprove(params *approveParams, requestID string) error {
	var approvedBudget money.Micros
	if params.budget != "" {
		parsed, err := money.ParseAmount(params.budget)
		if err != nil {
			return fmt.Errorf("parsing --budget: %w", err)
		}
		approvedBudget = parsed
	}

	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var approved schema.ChangeRequest
	err = client.Call(ctx, schema.ActionRequestApprove, map[string]any{
		"request_id":      requestID,
		"approved_budget": int64(approvedBudget),
		"notes":           params.notes,
	}, &approved)
	if err != nil {
		return fmt.Errorf("approving %s: %w", requestID, err)
	}

	fmt.Printf("approved %s\n", approved.ID)
	fmt.Printf("  agent:     %s\n", approved.AgentID)
	fmt.Printf("  new total: %s\n", approved.ApprovedBudget)
	return nil
}

type rejectParams struct {
	cli.Connection
	notes string
}

func rejectCommand() *cli.Command {
	var params rejectParams

	return &cli.Command{
		Name:    "reject",
		Summary: "Reject a pending request",
		Usage:   "bursar request reject <request-id> --notes <text> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reject", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.notes, "notes", "", "why the request is rejected (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one request ID, got %d args", len(args))
			}
			return runReject(&params, args[0])
		},
	}
}

func runReject(params *rejectParams, requestID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var rejected schema.ChangeRequest
	err = client.Call(ctx, schema.ActionRequestReject, map[string]any{
		"request_id": requestID,
		"notes":      params.notes,
	}, &rejected)
	if err != nil {
		return fmt.Errorf("rejecting %s: %w", requestID, err)
	}

	fmt.Printf("rejected %s (agent %s keeps %s)\n",
		rejected.ID, rejected.AgentID, rejected.SnapshotBudget)
	return nil
}

type cancelParams struct {
	cli.Connection
	reason string
}

func cancelCommand() *cli.Command {
	var params cancelParams

	return &cli.Command{
		Name:    "cancel",
		Summary: "Cancel a pending request",
		Usage:   "bursar request cancel <request-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.reason, "reason", "", "why the request is withdrawn")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one request ID, got %d args", len(args))
			}
			return runCancel(&params, args[0])
		},
	}
}

func runCancel(params *cancelParams, requestID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var cancelled schema.ChangeRequest
	err = client.Call(ctx, schema.ActionRequestCancel, map[string]any{
		"request_id": requestID,
		"reason":     params.reason,
	}, &cancelled)
	if err != nil {
		return fmt.Errorf("cancelling %s: %w", requestID, err)
	}

	fmt.Printf("cancelled %s\n", cancelled.ID)
	return nil
}
