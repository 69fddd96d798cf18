// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginsdk provides the SDK for building gatekeeper binary plugins.
//
// A binary plugin is an executable started by the host through HashiCorp's
// go-plugin over gRPC. The host only controls its lifetime: it starts the
// process when the plugin is loaded, waits until the plugin reports healthy
// and stops the process when the plugin is unloaded. The plugin does its
// own work in Run.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//		"github.com/holomush/gatekeeper/pkg/pluginsdk"
//	)
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{
//			Run: func(ctx context.Context) error {
//				<-ctx.Done()
//				return nil
//			},
//		})
//	}
package pluginsdk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ModuleName is the name the host dispenses.
const ModuleName = "module"

// DefaultShutdownTimeout bounds how long Serve waits for Run to return
// once the host asks the plugin to stop.
const DefaultShutdownTimeout = 5 * time.Second

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "GATEKEEPER_PLUGIN",
	MagicCookieValue: "gatekeeper-5:13",
}

// PluginMap is the set of plugins the host may dispense.
var PluginMap = map[string]hashiplug.Plugin{
	ModuleName: &Module{},
}

// Module implements go-plugin's gRPC plugin interface. The plugin side
// registers no services of its own: go-plugin already serves the health
// service the host probes.
type Module struct {
	hashiplug.NetRPCUnsupportedPlugin
}

// GRPCServer is called in the plugin process.
func (m *Module) GRPCServer(_ *hashiplug.GRPCBroker, _ *grpc.Server) error {
	return nil
}

// GRPCClient is called in the host process and returns a HealthProbe.
func (m *Module) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewHealthProbe(c), nil
}

// HealthProbe checks whether a plugin process reports SERVING.
type HealthProbe struct {
	client healthpb.HealthClient
}

// NewHealthProbe creates a probe over conn.
func NewHealthProbe(conn grpc.ClientConnInterface) *HealthProbe {
	return &HealthProbe{client: healthpb.NewHealthClient(conn)}
}

// Check returns nil if the plugin reports SERVING.
func (p *HealthProbe) Check(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: hashiplug.GRPCServiceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("plugin reports %s", resp.GetStatus())
	}
	return nil
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Run does the plugin's work. Its context is cancelled when the host
	// stops the plugin. Required; Serve will panic if nil.
	Run func(ctx context.Context) error

	// ShutdownTimeout bounds the wait for Run after cancellation.
	// Zero uses DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Serve starts the plugin server. This should be called from main().
// It returns once the host has stopped the plugin and Run has returned or
// timed out.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Run == nil {
		panic("pluginsdk: config.Run cannot be nil")
	}
	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- config.Run(ctx)
	}()

	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap,
		GRPCServer:      hashiplug.DefaultGRPCServer,
	})

	cancel()
	if err := waitRun(done, timeout); err != nil {
		log.Printf("pluginsdk: %v", err)
		os.Exit(1)
	}
}

func waitRun(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return errors.New("run did not return before shutdown timeout")
	}
}
