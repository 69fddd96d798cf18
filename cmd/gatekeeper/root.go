// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/control"
)

// Global flags available to all subcommands.
var configFile string

// controlComponent names the daemon's control socket.
const controlComponent = "host"

// NewRootCmd creates the root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - phase-aware plugin lifecycle host",
		Long: `Gatekeeper loads, runs and unloads plugins while the host moves
through its execution phases, admitting each load or unload only when the
plugin's declared timing constraints allow it.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMetaCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

// controlSocketPath resolves the daemon's socket: the explicit flag value,
// then control.socket from the config file, then the XDG runtime default.
func controlSocketPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return "", err
	}
	if cfg.Control.Socket != "" {
		return cfg.Control.Socket, nil
	}
	return control.SocketPath(controlComponent)
}
