// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control provides the HTTP control socket used to inspect and
// steer a running gatekeeper.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/internal/xdg"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// maxConsoleBody bounds the size of a console request.
const maxConsoleBody = 4096

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is returned by the /status endpoint.
type StatusResponse struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Component     string `json:"component,omitempty"`
	Phase         string `json:"phase,omitempty"`
	Paused        bool   `json:"paused"`
}

// PluginsResponse is returned by the /plugins endpoint.
type PluginsResponse struct {
	Phase   string          `json:"phase"`
	Paused  bool            `json:"paused"`
	Plugins []plugin.Status `json:"plugins"`
}

// ConsoleRequest is the body of a /console request.
type ConsoleRequest struct {
	Line string `json:"line"`
}

// ConsoleResponse is returned by the /console endpoint. Error and Code are
// set when the command failed.
type ConsoleResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// ShutdownResponse is returned by the /shutdown endpoint.
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// PluginLister lists registered plugins.
type PluginLister interface {
	List() []plugin.Status
}

// Executor runs console command lines.
type Executor interface {
	Execute(ctx context.Context, line string, w io.Writer) error
}

// Server runs HTTP over a Unix socket for process management.
type Server struct {
	component    string
	startTime    time.Time
	listener     net.Listener
	httpServer   *http.Server
	socketPath   string
	shutdownFunc ShutdownFunc
	running      atomic.Bool
	done         chan struct{}

	plugins PluginLister
	phases  plugin.PhaseSource
	console Executor
}

// Option configures a Server.
type Option func(*Server)

// WithSocketPath overrides the default socket location.
func WithSocketPath(path string) Option {
	return func(s *Server) {
		s.socketPath = path
	}
}

// WithPlugins enables /plugins and reports the host phase in /status.
func WithPlugins(plugins PluginLister, phases plugin.PhaseSource) Option {
	return func(s *Server) {
		s.plugins = plugins
		s.phases = phases
	}
}

// WithConsole enables /console.
func WithConsole(console Executor) Option {
	return func(s *Server) {
		s.console = console
	}
}

// NewServer creates a new control socket server.
// component is the name of the process (e.g., "serve").
func NewServer(component string, shutdownFunc ShutdownFunc, opts ...Option) *Server {
	s := &Server{
		component:    component,
		startTime:    time.Now(),
		shutdownFunc: shutdownFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.running.Store(true)
	return s
}

// SocketPath returns the default path of the Unix socket for component.
// Returns an error if the runtime directory cannot be determined.
func SocketPath(component string) (string, error) {
	runtimeDir, err := xdg.RuntimeDir()
	if err != nil {
		return "", oops.In("control").Wrapf(err, "failed to get runtime directory")
	}
	return filepath.Join(runtimeDir, fmt.Sprintf("gatekeeper-%s.sock", component)), nil
}

// Path returns the socket path once Start has run.
func (s *Server) Path() string {
	return s.socketPath
}

// Handler returns the control API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /plugins", s.handlePlugins)
	mux.HandleFunc("POST /console", s.handleConsole)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	errb := oops.In("control").With("component", s.component)
	if s.socketPath == "" {
		socketPath, err := SocketPath(s.component)
		if err != nil {
			return err
		}
		s.socketPath = socketPath
	}
	errb = errb.With("socket", s.socketPath)

	// Ensure runtime directory exists
	if err := xdg.EnsureDir(filepath.Dir(s.socketPath)); err != nil {
		return errb.Wrapf(err, "failed to create runtime directory")
	}

	// Remove existing socket file if present
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errb.Wrapf(err, "failed to remove existing socket")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errb.Wrapf(err, "failed to listen on socket")
	}
	s.listener = listener

	// Set socket permissions to owner-only
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return errb.Wrapf(err, "failed to set socket permissions")
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control socket server error",
				"component", s.component,
				"error", err,
			)
		}
	}()

	return nil
}

// Stop gracefully shuts down the control socket server.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.In("control").With("component", s.component).Wrapf(err, "failed to shutdown http server")
		}
		<-s.done
	}

	// Close listener if httpServer didn't handle it
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("failed to close control socket listener",
				"component", s.component,
				"error", err,
			)
		}
	}

	// Clean up socket file
	if s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove control socket file",
				"component", s.component,
				"path", s.socketPath,
				"error", err,
			)
		}
	}

	return nil
}

// handleHealth returns health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	s.respond(w, http.StatusOK, resp)
}

// handleStatus returns running status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Running:       s.running.Load(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Component:     s.component,
	}
	if s.phases != nil {
		resp.Phase = s.phases.CurrentPhase().String()
		resp.Paused = s.phases.IsPaused()
	}
	s.respond(w, http.StatusOK, resp)
}

// handlePlugins returns every registered plugin.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	if s.plugins == nil {
		http.Error(w, "plugins are not available", http.StatusNotImplemented)
		return
	}
	resp := PluginsResponse{
		Phase:   s.phases.CurrentPhase().String(),
		Paused:  s.phases.IsPaused(),
		Plugins: s.plugins.List(),
	}
	s.respond(w, http.StatusOK, resp)
}

// handleConsole runs one console line. Command failures are reported with
// 422 and the error's code.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if s.console == nil {
		http.Error(w, "console is not available", http.StatusNotImplemented)
		return
	}
	var req ConsoleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxConsoleBody)).Decode(&req); err != nil {
		http.Error(w, "invalid console request", http.StatusBadRequest)
		return
	}

	var out bytes.Buffer
	err := s.console.Execute(r.Context(), req.Line, &out)
	resp := ConsoleResponse{Output: out.String()}
	status := http.StatusOK
	if err != nil {
		status = http.StatusUnprocessableEntity
		resp.Error = err.Error()
		resp.Code = errutil.Code(err)
	}
	s.respond(w, status, resp)
}

// handleShutdown initiates graceful shutdown.
func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, ShutdownResponse{Message: "shutdown initiated"})

	// Trigger shutdown asynchronously
	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, v any) {
	if err := writeJSON(w, statusCode, v); err != nil {
		slog.Error("failed to write control response",
			"component", s.component,
			"error", err,
		)
	}
}

// writeJSON writes a JSON response with the given status code.
// Returns an error if JSON encoding fails.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.Wrapf(err, "failed to encode JSON response")
	}
	return nil
}
