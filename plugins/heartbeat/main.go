// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main implements a heartbeat binary plugin for gatekeeper.
// It logs a heartbeat at a fixed interval for as long as it is loaded.
//
// Build with:
//
//	go build -o plugins/heartbeat/heartbeat ./plugins/heartbeat
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/holomush/gatekeeper/pkg/pluginsdk"
)

// intervalEnv overrides the heartbeat interval, as a Go duration.
const intervalEnv = "HEARTBEAT_INTERVAL"

func main() {
	// go-plugin forwards stderr to the host log.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	interval := 10 * time.Second
	if v := os.Getenv(intervalEnv); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Warn("ignoring invalid heartbeat interval", "value", v)
		} else {
			interval = d
		}
	}

	pluginsdk.Serve(&pluginsdk.ServeConfig{
		Run: func(ctx context.Context) error {
			return beat(ctx, logger, interval)
		},
	})
}

// beat logs once per interval until ctx is cancelled.
func beat(ctx context.Context, logger *slog.Logger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	logger.Info("heartbeat started", "interval", interval.String())
	for beats := 1; ; beats++ {
		select {
		case <-ctx.Done():
			logger.Info("heartbeat stopped", "beats", beats-1, "uptime", time.Since(start).Round(time.Second).String())
			return ctx.Err()
		case <-ticker.C:
			logger.Info("heartbeat", "beat", beats)
		}
	}
}
