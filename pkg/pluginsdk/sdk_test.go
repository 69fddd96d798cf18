// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHandshakeConfig(t *testing.T) {
	assert.Equal(t, uint(1), HandshakeConfig.ProtocolVersion)
	assert.Equal(t, "GATEKEEPER_PLUGIN", HandshakeConfig.MagicCookieKey)
	assert.NotEmpty(t, HandshakeConfig.MagicCookieValue)
}

func TestPluginMap_DispensesModule(t *testing.T) {
	p, ok := PluginMap[ModuleName]
	require.True(t, ok)
	_, ok = p.(hashiplug.GRPCPlugin)
	assert.True(t, ok, "module must be a gRPC plugin")
}

func TestServe_PanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() { Serve(nil) })
	assert.Panics(t, func() { Serve(&ServeConfig{}) })
}

// startHealthServer serves the gRPC health service over an in-memory
// listener and returns a connection to it.
func startHealthServer(t *testing.T) (*health.Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return hs, conn
}

func TestHealthProbe_Check(t *testing.T) {
	hs, conn := startHealthServer(t)
	probe := NewHealthProbe(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Unknown service until the plugin registers its status.
	require.Error(t, probe.Check(ctx))

	hs.SetServingStatus(hashiplug.GRPCServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	err := probe.Check(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SERVING")

	hs.SetServingStatus(hashiplug.GRPCServiceName, healthpb.HealthCheckResponse_SERVING)
	assert.NoError(t, probe.Check(ctx))
}

func TestWaitRun(t *testing.T) {
	tests := []struct {
		name    string
		result  error
		send    bool
		wantErr string
	}{
		{name: "clean return", send: true},
		{name: "cancelled run is clean", send: true, result: context.Canceled},
		{name: "run error", send: true, result: errors.New("boom"), wantErr: "run: boom"},
		{name: "timeout", wantErr: "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan error, 1)
			if tt.send {
				done <- tt.result
			}
			err := waitRun(done, 20*time.Millisecond)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
