// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/console"
	"github.com/holomush/gatekeeper/internal/control"
	"github.com/holomush/gatekeeper/internal/plugin"
)

// HostStatus holds the status information for the host daemon.
type HostStatus struct {
	Running       bool            `json:"running"`
	Health        string          `json:"health,omitempty"`
	PID           int             `json:"pid,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds,omitempty"`
	Phase         string          `json:"phase,omitempty"`
	Paused        bool            `json:"paused"`
	Plugins       []plugin.Status `json:"plugins,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	socket     string
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the running host and its plugins",
		Long:  `Show the health of the running host, its phase, and the state of every registered plugin.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&cfg.socket, "socket", "", "control socket path (default: from config or XDG runtime dir)")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	socketPath, err := controlSocketPath(cfg.socket)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	status := queryHostStatus(ctx, socketPath)

	if cfg.jsonOutput {
		output, err := formatStatusJSON(status)
		if err != nil {
			return err
		}
		cmd.Println(output)
		return nil
	}

	output, err := formatStatusTable(status)
	if err != nil {
		return err
	}
	cmd.Print(output)
	return nil
}

// queryHostStatus asks the daemon behind socketPath for its health, status
// and plugin list. A daemon that cannot be reached is reported as stopped.
func queryHostStatus(ctx context.Context, socketPath string) HostStatus {
	var status HostStatus

	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		status.Error = "socket not found"
		return status
	}

	client := control.NewClient(socketPath)
	defer client.Close()

	health, err := client.Health(ctx)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Running = true
	status.Health = health.Status

	// Health succeeded; partial details still describe a running host.
	if st, err := client.Status(ctx); err == nil {
		status.Running = st.Running
		status.PID = st.PID
		status.UptimeSeconds = st.UptimeSeconds
		status.Phase = st.Phase
		status.Paused = st.Paused
	}
	if pl, err := client.Plugins(ctx); err == nil {
		status.Plugins = pl.Plugins
	}

	return status
}

// formatStatusTable formats the host row followed by the plugin table.
func formatStatusTable(status HostStatus) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "HOST\tHEALTH\tPID\tUPTIME\tPHASE")
	if status.Running {
		phase := status.Phase
		if status.Paused {
			phase += " (paused)"
		}
		_, _ = fmt.Fprintf(w, "running\t%s\t%d\t%s\t%s\n",
			status.Health, status.PID, formatUptime(status.UptimeSeconds), phase)
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "stopped\t-\t-\t-\t%s\n", reason)
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	if status.Running {
		buf.WriteString("\n")
		if err := console.WritePluginTable(&buf, status.Plugins); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status HostStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// formatUptime formats seconds into a human-readable duration.
func formatUptime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
