// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package vault

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
	provider string
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List stored provider keys",
		Usage:   "bursar vault list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			flagSet.StringVar(&params.provider, "provider", "", "filter by provider")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runVaultList(&params)
		},
	}
}

func runVaultList(params *listParams) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	var response schema.VaultListResponse
	err = client.Call(ctx, schema.ActionVaultList, map[string]any{
		"provider": params.provider,
	}, &response)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	if len(response.Keys) == 0 {
		fmt.Println("no keys")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPROVIDER\tHINT\tSTATE\tLAST USED")
	for _, key := range response.Keys {
		state := "enabled"
		if !key.Enabled {
			state = "disabled"
		}
		lastUsed := "never"
		if key.LastUsedAt != 0 {
			lastUsed = time.Unix(key.LastUsedAt, 0).UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			key.KeyID, key.Provider, key.MaskedHint, state, lastUsed)
	}
	return tw.Flush()
}

type disableParams struct {
	cli.Connection
}

func disableCommand() *cli.Command {
	var params disableParams

	return &cli.Command{
		Name:    "disable",
		Summary: "Stop issuing a key to new leases",
		Description: `Disable a stored key. Leases already holding it run to completion;
new handshakes and refreshes fall back to the provider's newest
remaining enabled key. There is no enable: rotating back means
storing the key again under a fresh key ID.`,
		Usage: "bursar vault disable <key-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("disable", pflag.ContinueOnError)
			params.Connection.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one key ID, got %d args", len(args))
			}
			return runDisable(&params, args[0])
		},
	}
}

func runDisable(params *disableParams, keyID string) error {
	client, err := params.Connect()
	if err != nil {
		return err
	}

	ctx, cancel := cli.CallContext()
	defer cancel()

	err = client.Call(ctx, schema.ActionVaultDisable, map[string]any{
		"key_id": keyID,
	}, nil)
	if err != nil {
		return fmt.Errorf("disabling %s: %w", keyID, err)
	}

	fmt.Printf("disabled %s\n", keyID)
	return nil
}
