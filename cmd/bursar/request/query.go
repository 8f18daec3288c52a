// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package request

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
	agentID string
	status  string
	limit   int64
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List change requests",
		Usage:   "bursar request list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.agentID, "agent", "", "filter by agent ID")
			flagSet.StringVar(&params.status, "status", "", "filter by status (pending, approved, rejected, cancelled)")
			flagSet.Int64Var(&params.limit, "limit", 0, "maximum entries to show (0 = all)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runRequestList(&params)
		},
	}
}

func runRequestList(params *listParams) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.RequestListResponse
	err = client.Call(ctx, schema.ActionRequestList, map[string]any{
		"agent_id": params.agentID,
		"status":   params.status,
		"limit":    params.limit,
	}, &response)
	if err != nil {
		return fmt.Errorf("listing requests: %w", err)
	}

	if len(response.Requests) == 0 {
		fmt.Println("no requests")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "REQUEST\tAGENT\tFROM\tTO\tSTATUS\tCREATED")
	for _, request := range response.Requests {
		created := time.Unix(request.CreatedAt, 0).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			request.ID, request.AgentID,
			request.SnapshotBudget, request.RequestedBudget,
			request.Status, created)
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
		Summary: "Show one change request in full",
		Usage:   "bursar request show <request-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one request ID, got %d args", len(args))
			}
			return runRequestShow(&params, args[0])
		},
	}
}

func runRequestShow(params *showParams, requestID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var request schema.ChangeRequest
	err = client.Call(ctx, schema.ActionRequestShow, map[string]any{
		"request_id": requestID,
	}, &request)
	if err != nil {
		return fmt.Errorf("fetching request %s: %w", requestID, err)
	}

	fmt.Printf("%s (%s)\n", request.ID, request.Status)
	fmt.Printf("  agent:     %s\n", request.AgentID)
	fmt.Printf("  requester: %s\n", request.Requester)
	fmt.Printf("  current:   %s\n", request.SnapshotBudget)
	fmt.Printf("  requested: %s\n", request.RequestedBudget)
	if request.ApprovedBudget != 0 {
		fmt.Printf("  approved:  %s\n", request.ApprovedBudget)
	}
	if request.ReviewedBy != "" {
		fmt.Printf("  reviewer:  %s\n", request.ReviewedBy)
	}
	if request.ReviewNotes != "" {
		fmt.Printf("  notes:     %s\n", request.ReviewNotes)
	}
	fmt.Printf("  created:   %s\n", time.Unix(request.CreatedAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("\n%s\n", request.Justification)
	return nil
}
