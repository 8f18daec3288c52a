// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch implements "bursar watch", the live budget dashboard.
package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/cmd/bursar/cli"
	"github.com/bursar-io/bursar/lib/budgetui"
)

type watchParams struct {
	cli.Connection
	refresh time.Duration
}

// Command returns the "watch" command.
func Command() *cli.Command {
	var params watchParams

	return &cli.Command{
		Name:    "watch",
		Summary: "Live budget dashboard",
		Description: `Open the full-screen dashboard: every active agent with its budget,
spend, outstanding leases, and pending change requests, refreshed
from the service on an interval.

Keys: j/k move, tab focuses the detail pane, / filters (fuzzy),
r refreshes now, q quits. The dashboard is read-only; reviewing
requests happens through "bursar request".`,
		Usage: "bursar watch [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.DurationVar(&params.refresh, "refresh", budgetui.DefaultRefreshInterval, "snapshot refresh interval")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runWatch(&params)
		},
	}
}

func runWatch(params *watchParams) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	source := budgetui.NewServiceSource(client)
	model := budgetui.New(source, budgetui.DefaultTheme, params.refresh)

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
