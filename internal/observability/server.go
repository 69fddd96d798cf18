// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// ReadinessChecker returns whether the service is ready. Gatekeeper is
// ready once the startup plugin refresh has finished.
type ReadinessChecker func() bool

// consoleCommands is a package-level counter for console commands.
// This allows the console to record commands without access to the Server.
var consoleCommands = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_console_commands_total",
		Help: "Total number of console commands by verb and result",
	},
	[]string{"verb", "result"},
)

// RecordConsoleCommand counts one console command.
func RecordConsoleCommand(verb string, err error) {
	consoleCommands.WithLabelValues(verb, result(err)).Inc()
}

// Metrics contains gatekeeper's process-level metrics.
type Metrics struct {
	RefreshesTotal  *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
}

// NewMetrics creates and registers gatekeeper metrics, including the plugin
// lifecycle metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_refreshes_total",
				Help: "Total number of plugin list refreshes by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_refresh_duration_seconds",
				Help:    "Plugin list refresh duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.RefreshesTotal)
	reg.MustRegister(m.RefreshDuration)
	reg.MustRegister(consoleCommands)
	plugin.RegisterMetrics(reg)

	return m
}

// ObserveRefresh records a refresh that started at start.
func (m *Metrics) ObserveRefresh(trigger string, start time.Time, err error) {
	m.RefreshesTotal.WithLabelValues(trigger, result(err)).Inc()
	m.RefreshDuration.Observe(time.Since(start).Seconds())
}

func result(err error) string {
	if err != nil {
		return plugin.ResultError
	}
	return plugin.ResultSuccess
}

// Server serves /metrics and the liveness and readiness probes.
type Server struct {
	addr     string
	registry *prometheus.Registry
	metrics  *Metrics
	isReady  ReadinessChecker
	running  atomic.Bool

	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a server listening on addr ("host:port"; port 0 picks
// a free port). The server owns a private Prometheus registry carrying the
// Go and process collectors plus the gatekeeper metrics.
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
	}
}

// Metrics returns the metrics recorded by the host.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the HTTP routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("GET /healthz/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if s.isReady != nil && !s.isReady() {
			writeProbe(w, http.StatusServiceUnavailable, "startup refresh pending")
			return
		}
		writeProbe(w, http.StatusOK, "ok")
	})
	return mux
}

// Start listens and serves in the background. The returned channel
// receives a serve failure, if any, and is closed once serving stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrapf(err, "listen")
	}
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server failed", "error", serveErr)
			errCh <- serveErr
		}
	}()
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.In("observability").Wrapf(err, "shutdown")
	}
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintln(w, body)
}
