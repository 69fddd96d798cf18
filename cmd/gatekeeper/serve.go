// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/console"
	"github.com/holomush/gatekeeper/internal/control"
	"github.com/holomush/gatekeeper/internal/host"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/internal/plugin/goplugin"
	"github.com/holomush/gatekeeper/internal/plugin/lua"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// shutdownTimeout bounds the graceful shutdown of servers and plugins.
const shutdownTimeout = 10 * time.Second

// Refresh triggers, used as the metrics label.
const (
	triggerStartup     = "startup"
	triggerChangeLevel = "changelevel"
	triggerConsole     = "console"
	triggerWatch       = "watch"
)

// closingLoader is a plugin.Loader that owns resources released on shutdown.
type closingLoader interface {
	plugin.Loader
	Close()
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ControlServer wraps the methods used from control.Server.
type ControlServer interface {
	Start() error
	Stop(ctx context.Context) error
	Path() string
}

// serveDeps holds the factories runServe builds its collaborators with.
// Tests replace them to avoid spawning processes or binding ports.
type serveDeps struct {
	NewBinaryLoader        func(logger *slog.Logger) closingLoader
	NewLuaLoader           func(logger *slog.Logger) closingLoader
	NewObservabilityServer func(addr string, ready observability.ReadinessChecker) ObservabilityServer
	NewControlServer       func(shutdown control.ShutdownFunc, opts ...control.Option) ControlServer
	LogWriter              io.Writer
}

func defaultServeDeps() *serveDeps {
	return &serveDeps{
		NewBinaryLoader: func(logger *slog.Logger) closingLoader {
			return goplugin.NewLoader(goplugin.WithLogger(logger))
		},
		NewLuaLoader: func(logger *slog.Logger) closingLoader {
			return lua.NewLoader(logger)
		},
		NewObservabilityServer: func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		},
		NewControlServer: func(shutdown control.ShutdownFunc, opts ...control.Option) ControlServer {
			return control.NewServer(controlComponent, shutdown, opts...)
		},
		LogWriter: os.Stderr,
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host",
		Long: `Run the plugin host: discover plugins, load the enabled ones as the
host phase allows, and serve the meta console on the control socket until
interrupted or asked to shut down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, defaultServeDeps())
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the host until ctx is cancelled, a signal arrives,
// a shutdown is requested over the control socket, or a server fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *serveDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "validate configuration").Wrap(err)
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "gatekeeper",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  deps.LogWriter,
	})

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	luaLoader := deps.NewLuaLoader(logger)
	defer luaLoader.Close()
	binaryLoader := deps.NewBinaryLoader(logger)
	defer binaryLoader.Close()
	router := plugin.NewRouter(binaryLoader).Route(".lua", luaLoader)

	phases := host.NewPhases()
	registry := plugin.NewRegistry(router, phases,
		plugin.WithInterfaceVersion(cfg.InterfaceVersion),
		plugin.WithLoaderTimeout(cfg.Plugins.LoaderTimeout),
		plugin.WithLogger(logger))

	catalog, err := plugin.NewDirCatalog(cfg.Plugins.Dir, cfg.Plugins.Enabled)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	reconciler := plugin.NewReconciler(registry, catalog, logger)

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsErrCh <-chan error
	if cfg.MetricsAddr != "" {
		obsServer := deps.NewObservabilityServer(cfg.MetricsAddr, ready.Load)
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := obsServer.Stop(stopCtx); stopErr != nil {
				errutil.LogError(logger, "failed to stop observability server", stopErr)
			}
		}()
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	refresher := &trackedRefresher{reconciler: reconciler, metrics: metrics, logger: logger}

	// Pending unloads are retried on every phase change; entering
	// changelevel also re-reads the plugin list. Subscription order matters.
	unbind := registry.Bind(ctx, phases)
	defer unbind()
	unsubscribe := phases.Subscribe(func(change plugin.PhaseChange) {
		if change.PhaseChanged && change.Phase == plugin.ChangeLevel {
			refresher.run(ctx, triggerChangeLevel)
		}
	})
	defer unsubscribe()

	meta := console.New(registry, phases,
		console.WithRefresher(refresher.forTrigger(triggerConsole)),
		console.WithVersion(version),
		console.WithLogger(logger))

	controlServer := deps.NewControlServer(control.ShutdownFunc(cancel),
		control.WithSocketPath(cfg.Control.Socket),
		control.WithPlugins(registry, phases),
		control.WithConsole(meta))
	if err := controlServer.Start(); err != nil {
		return oops.Code("CONTROL_START_FAILED").Wrap(err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if stopErr := controlServer.Stop(stopCtx); stopErr != nil {
			errutil.LogError(logger, "failed to stop control server", stopErr)
		}
	}()

	refresher.run(ctx, triggerStartup)
	ready.Store(true)

	watchDone := make(chan struct{})
	if cfg.Plugins.Watch {
		watcher := plugin.NewWatcher(cfg.Plugins.Dir, cfg.Plugins.WatchDebounce, func(ctx context.Context) {
			refresher.run(ctx, triggerWatch)
		})
		go func() {
			defer close(watchDone)
			if watchErr := watcher.Run(ctx); watchErr != nil {
				errutil.LogError(logger, "plugins directory watcher stopped", watchErr)
			}
		}()
	} else {
		close(watchDone)
	}

	if obsErrCh != nil {
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	cmd.Printf("gatekeeper started (phase %s, control socket %s)\n", phases.CurrentPhase(), controlServer.Path())
	logger.Info("gatekeeper started",
		"plugins_dir", cfg.Plugins.Dir,
		"interface_version", cfg.InterfaceVersion,
		"control_socket", controlServer.Path())

	<-ctx.Done()
	<-watchDone
	logger.Info("shutting down")
	ready.Store(false)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := registry.Close(closeCtx); err != nil {
		errutil.LogError(logger, "some plugins failed to unload at shutdown", err)
	}

	cmd.Println("gatekeeper stopped")
	return nil
}

// trackedRefresher runs reconciler refreshes and records their outcome.
type trackedRefresher struct {
	reconciler *plugin.Reconciler
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func (t *trackedRefresher) refresh(ctx context.Context, trigger string) (plugin.RefreshReport, error) {
	start := time.Now()
	report, err := t.reconciler.Refresh(ctx)
	if t.metrics != nil {
		t.metrics.ObserveRefresh(trigger, start, err)
	}
	t.logger.Info("plugins refreshed",
		"trigger", trigger,
		"registered", len(report.Registered),
		"loaded", len(report.Loaded),
		"unloaded", len(report.Unloaded),
		"deferred", len(report.Deferred),
		"purged", len(report.Purged))
	return report, err
}

// run refreshes and logs any error.
func (t *trackedRefresher) run(ctx context.Context, trigger string) {
	if _, err := t.refresh(ctx, trigger); err != nil {
		errutil.LogError(t.logger, "plugin refresh finished with errors", err)
	}
}

// forTrigger adapts the refresher to console.Refresher.
func (t *trackedRefresher) forTrigger(trigger string) console.Refresher {
	return refreshFunc(func(ctx context.Context) (plugin.RefreshReport, error) {
		return t.refresh(ctx, trigger)
	})
}

type refreshFunc func(ctx context.Context) (plugin.RefreshReport, error)

func (f refreshFunc) Refresh(ctx context.Context) (plugin.RefreshReport, error) {
	return f(ctx)
}

// monitorServerErrors cancels ctx when errCh reports a server failure.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
