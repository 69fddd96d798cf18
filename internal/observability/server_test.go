// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/plugin"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHandler_Probes(t *testing.T) {
	var ready atomic.Bool
	h := NewServer("127.0.0.1:0", ready.Load).Handler()

	code, body := get(t, h, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get(t, h, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "startup refresh pending")

	ready.Store(true)
	code, _ = get(t, h, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_ReadinessWithoutChecker(t *testing.T) {
	code, _ := get(t, NewServer("127.0.0.1:0", nil).Handler(), "/healthz/readiness")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_Metrics(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	s.Metrics().ObserveRefresh("watch", time.Now(), nil)
	s.Metrics().ObserveRefresh("watch", time.Now(), nil)
	s.Metrics().ObserveRefresh("console", time.Now(), errors.New("catalog unreadable"))
	plugin.Transitions.WithLabelValues("loading", "loaded").Inc()

	code, body := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `gatekeeper_refreshes_total{result="success",trigger="watch"} 2`)
	assert.Contains(t, body, `gatekeeper_refreshes_total{result="error",trigger="console"} 1`)
	assert.Contains(t, body, "gatekeeper_refresh_duration_seconds_count 3")
	assert.Contains(t, body, "gatekeeper_plugin_transitions_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestHandler_RejectsOtherMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer("127.0.0.1:0", nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", func() bool { return true })
	assert.Empty(t, s.Addr())

	errCh, err := s.Start()
	require.NoError(t, err)
	require.NotEmpty(t, s.Addr())

	_, err = s.Start()
	require.Error(t, err, "second start")

	resp, err := http.Get("http://" + s.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")

	select {
	case serveErr, ok := <-errCh:
		assert.False(t, ok, "channel closes without an error, got %v", serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed")
	}
}

func TestServer_StartFailsOnBusyAddress(t *testing.T) {
	first := NewServer("127.0.0.1:0", nil)
	_, err := first.Start()
	require.NoError(t, err)
	defer func() { _ = first.Stop(context.Background()) }()

	second := NewServer(first.Addr(), nil)
	_, err = second.Start()
	require.Error(t, err)

	// A failed start does not leave the server marked as running.
	_, err = second.Start()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "already running")
}

func TestRecordConsoleCommand(t *testing.T) {
	before := testutil.ToFloat64(consoleCommands.WithLabelValues("load", "error"))
	RecordConsoleCommand("load", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(consoleCommands.WithLabelValues("load", "error")))
}
