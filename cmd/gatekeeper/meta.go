// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/control"
)

// metaConfig holds configuration for the meta command.
type metaConfig struct {
	socket  string
	timeout time.Duration
}

// newMetaCmd creates the meta subcommand, which forwards one console line
// to a running daemon.
func newMetaCmd() *cobra.Command {
	cfg := &metaConfig{}

	cmd := &cobra.Command{
		Use:   "meta <command> [argument]",
		Short: "Run a meta console command on the running host",
		Long: `Run a meta console command on the running host, for example:

  gatekeeper meta list
  gatekeeper meta unload "admin tools"
  gatekeeper meta phase changelevel

Run "gatekeeper meta help" for the full command list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			socketPath, err := controlSocketPath(cfg.socket)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()
			return runMeta(ctx, cmd, control.NewClient(socketPath), args)
		},
	}

	cmd.Flags().StringVar(&cfg.socket, "socket", "", "control socket path (default: from config or XDG runtime dir)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 30*time.Second, "how long to wait for the command to finish")

	return cmd
}

// consoleClient is the part of control.Client used by meta.
type consoleClient interface {
	Console(ctx context.Context, line string) (string, error)
	Close()
}

// runMeta sends args as one console line and prints the daemon's output.
// Output produced before a failure is still printed.
func runMeta(ctx context.Context, cmd *cobra.Command, client consoleClient, args []string) error {
	defer client.Close()

	output, err := client.Console(ctx, consoleLine(args))
	if output != "" {
		cmd.Print(output)
	}
	return err
}

// consoleLine joins shell arguments into a console line, quoting any
// argument the console grammar would otherwise split.
func consoleLine(args []string) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\"") {
			arg = strconv.Quote(arg)
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}
