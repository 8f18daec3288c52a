// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bursar-io/bursar/lib/config"
	"github.com/bursar-io/bursar/lib/service"
)

// callTimeout bounds one service call made by a CLI command.
const callTimeout = 30 * time.Second

// Connection manages the socket and credential flags shared by every
// command that talks to the ledger service. Defaults come from the
// client section of the base configuration, overridable by the
// BURSAR_SOCKET and BURSAR_TOKEN environment variables and then by
// the flags themselves.
type Connection struct {
	SocketPath string
	TokenPath  string
}

// AddFlags registers --socket and --token-file on the flag set.
func (c *Connection) AddFlags(flagSet *pflag.FlagSet) {
	defaults := config.Default().Client

	socketDefault := defaults.SocketPath
	if envSocket := os.Getenv("BURSAR_SOCKET"); envSocket != "" {
		socketDefault = envSocket
	}
	tokenDefault := defaults.TokenPath
	if envToken := os.Getenv("BURSAR_TOKEN"); envToken != "" {
		tokenDefault = envToken
	}

	flagSet.StringVar(&c.SocketPath, "socket", socketDefault, "ledger service socket path")
	flagSet.StringVar(&c.TokenPath, "token-file", tokenDefault, "path to the credential file")
}

// Connect creates a service client from the connection parameters.
func (c *Connection) Connect() (*service.ServiceClient, error) {
	client, err := service.NewServiceClient(c.SocketPath, c.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to ledger service: %w (is the service running, and does --token-file name a credential?)", err)
	}
	return client, nil
}

// CallContext returns the context for one service call.
func CallContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}
