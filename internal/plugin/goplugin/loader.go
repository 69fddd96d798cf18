// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin loads binary plugins as child processes using
// HashiCorp's go-plugin system over gRPC.
package goplugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/pkg/pluginsdk"
)

// Health check defaults applied after a plugin process starts.
const (
	DefaultHealthRetries  = 10
	DefaultHealthInterval = 200 * time.Millisecond
)

// ErrLoaderClosed is returned when loading through a closed loader.
var ErrLoaderClosed = errors.New("loader is closed")

// Compile-time interface check.
var _ plugin.Loader = (*Loader)(nil)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
	// Exited reports whether the plugin process has exited.
	Exited() bool
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath comes from a validated manifest
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
	})
}

// module is the handle for a running plugin process.
type module struct {
	path   string
	client PluginClient
}

// Loader runs binary plugins. Loading starts the process and waits for it to
// report SERVING; unloading kills it.
type Loader struct {
	factory        ClientFactory
	logger         *slog.Logger
	healthRetries  uint64
	healthInterval time.Duration

	mu     sync.Mutex
	live   map[*module]struct{}
	closed bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithClientFactory replaces the factory used to start plugin processes.
func WithClientFactory(f ClientFactory) Option {
	return func(l *Loader) {
		l.factory = f
	}
}

// WithHealthCheck sets how many times and how often a new process is probed.
func WithHealthCheck(retries uint64, interval time.Duration) Option {
	return func(l *Loader) {
		l.healthRetries = retries
		l.healthInterval = interval
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a binary plugin loader.
// Panics if a nil factory is supplied.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		factory:        &DefaultClientFactory{},
		logger:         slog.Default(),
		healthRetries:  DefaultHealthRetries,
		healthInterval: DefaultHealthInterval,
		live:           make(map[*module]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return l
}

// Load implements plugin.Loader.
func (l *Loader) Load(ctx context.Context, modulePath string) (plugin.Handle, error) {
	errb := oops.In("goplugin").With("module", modulePath).With("operation", "load")

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, errb.Wrap(ErrLoaderClosed)
	}

	execPath := filepath.Clean(modulePath)
	if _, err := os.Stat(execPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errb.Hint("plugin executable not found").Wrap(err)
		}
		return nil, errb.Hint("cannot access plugin executable").Wrap(err)
	}

	client := l.factory.NewClient(execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to connect to plugin").Wrap(err)
	}

	raw, err := rpcClient.Dispense(pluginsdk.ModuleName)
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to dispense plugin").Wrap(err)
	}

	checker, ok := raw.(HealthChecker)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("plugin does not implement a health check")
	}

	if err := l.waitHealthy(ctx, checker); err != nil {
		client.Kill()
		return nil, errb.Hint("plugin did not become healthy").Wrap(err)
	}

	m := &module{path: execPath, client: client}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		client.Kill()
		return nil, errb.Wrap(ErrLoaderClosed)
	}
	l.live[m] = struct{}{}
	l.mu.Unlock()

	l.logger.Debug("binary plugin started", "module", filepath.Base(execPath))
	return m, nil
}

func (l *Loader) waitHealthy(ctx context.Context, checker HealthChecker) error {
	backoff := retry.WithMaxRetries(l.healthRetries, retry.NewConstant(l.healthInterval))
	//nolint:wrapcheck // wrapped by the caller
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := checker.Check(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Unload implements plugin.Loader.
func (l *Loader) Unload(_ context.Context, h plugin.Handle) error {
	m, ok := h.(*module)
	if !ok || m == nil {
		return oops.In("goplugin").With("operation", "unload").Errorf("handle %T was not returned by this loader", h)
	}

	l.mu.Lock()
	delete(l.live, m)
	l.mu.Unlock()

	m.client.Kill()
	if !m.client.Exited() {
		return oops.In("goplugin").With("module", m.path).With("operation", "unload").Errorf("plugin process did not exit")
	}
	l.logger.Debug("binary plugin stopped", "module", filepath.Base(m.path))
	return nil
}

// Close kills every running plugin process. Further loads fail.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	live := l.live
	l.live = make(map[*module]struct{})
	l.mu.Unlock()

	for m := range live {
		m.client.Kill()
	}
}

// Running returns the number of plugin processes started by this loader
// that have not been unloaded.
func (l *Loader) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}
