// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatekeeper configuration from a YAML file and
// command-line flags.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/internal/xdg"
)

// Config is the daemon configuration.
type Config struct {
	InterfaceVersion string        `koanf:"interface_version"`
	Plugins          PluginsConfig `koanf:"plugins"`
	Log              LogConfig     `koanf:"log"`
	MetricsAddr      string        `koanf:"metrics_addr"`
	Control          ControlConfig `koanf:"control"`
}

// PluginsConfig says where plugins live and which are enabled.
type PluginsConfig struct {
	Dir           string        `koanf:"dir"`
	Enabled       []string      `koanf:"enabled"`
	Watch         bool          `koanf:"watch"`
	WatchDebounce time.Duration `koanf:"watch_debounce"`
	// LoaderTimeout bounds each plugin load or unload. Zero disables it.
	LoaderTimeout time.Duration `koanf:"loader_timeout"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// ControlConfig configures the control socket.
type ControlConfig struct {
	// Socket overrides the socket path. Empty uses the XDG runtime dir.
	Socket string `koanf:"socket"`
}

// Default values.
const (
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"interface-version": "interface_version",
	"plugins-dir":       "plugins.dir",
	"enable":            "plugins.enabled",
	"watch":             "plugins.watch",
	"watch-debounce":    "plugins.watch_debounce",
	"loader-timeout":    "plugins.loader_timeout",
	"log-format":        "log.format",
	"log-level":         "log.level",
	"metrics-addr":      "metrics_addr",
	"control-socket":    "control.socket",
}

// Default returns the built-in configuration. Plugins are read from the
// XDG data directory and every discovered plugin is enabled.
func Default() Config {
	dir, err := xdg.PluginsDir()
	if err != nil {
		dir = "plugins"
	}
	return Config{
		InterfaceVersion: plugin.InterfaceVersion,
		Plugins: PluginsConfig{
			Dir:           dir,
			Enabled:       []string{"*"},
			WatchDebounce: plugin.DefaultWatchDebounce,
			LoaderTimeout: plugin.DefaultLoaderTimeout,
		},
		Log: LogConfig{
			Format: DefaultLogFormat,
			Level:  DefaultLogLevel,
		},
		MetricsAddr: DefaultMetricsAddr,
	}
}

// RegisterFlags adds the configuration flags to fs with defaults from
// Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("interface-version", d.InterfaceVersion, "plugin interface version plugins must declare")
	fs.String("plugins-dir", d.Plugins.Dir, "directory containing one sub-directory per plugin")
	fs.StringSlice("enable", d.Plugins.Enabled, "glob patterns naming the plugins to run")
	fs.Bool("watch", d.Plugins.Watch, "refresh plugins when the plugins directory changes")
	fs.Duration("watch-debounce", d.Plugins.WatchDebounce, "quiet period before a watched change triggers a refresh")
	fs.Duration("loader-timeout", d.Plugins.LoaderTimeout, "upper bound on a single plugin load or unload (0 = none)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("control-socket", d.Control.Socket, "control socket path (default: XDG runtime dir)")
}

// Load reads configuration from path, then applies flags set on fs. An
// empty path reads the default config file if it exists. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, oops.In("config").With("path", path).Wrapf(err, "failed to read config file")
			}
		} else {
			slog.Debug("loaded config file", "path", path)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "failed to read flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").With("path", path).Wrapf(err, "failed to decode configuration")
	}
	return &cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	errb := oops.In("config")
	if strings.TrimSpace(c.InterfaceVersion) == "" {
		return errb.Errorf("interface_version is required")
	}
	if c.Plugins.Dir == "" {
		return errb.Errorf("plugins.dir is required")
	}
	for i, p := range c.Plugins.Enabled {
		if strings.TrimSpace(p) == "" {
			return errb.With("index", i).Errorf("plugins.enabled entries must not be empty")
		}
	}
	if c.Plugins.WatchDebounce < 0 {
		return errb.Errorf("plugins.watch_debounce must not be negative, got %s", c.Plugins.WatchDebounce)
	}
	if c.Plugins.LoaderTimeout < 0 {
		return errb.Errorf("plugins.loader_timeout must not be negative, got %s", c.Plugins.LoaderTimeout)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return errb.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return level, oops.In("config").With("level", c.Log.Level).Wrapf(err, "log.level is invalid")
	}
	return level, nil
}
