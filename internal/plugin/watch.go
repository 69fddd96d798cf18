// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// DefaultWatchDebounce is how long the watcher waits for filesystem events
// to settle before triggering a refresh.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher triggers a callback when anything under a plugins directory
// changes. Bursts of events are coalesced into a single callback.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(context.Context)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for dir. A non-positive debounce uses
// DefaultWatchDebounce.
func NewWatcher(dir string, debounce time.Duration, onChange func(context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   slog.Default().With("component", "plugin-watcher"),
	}
}

// Run watches until ctx is cancelled. It returns an error only if the
// watch cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("watcher").Wrapf(err, "create filesystem watcher")
	}
	defer func() { _ = fw.Close() }()

	if err := w.addTree(fw); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := fw.Add(ev.Name); addErr != nil {
						w.logger.Warn("cannot watch new plugin directory", "dir", ev.Name, "error", addErr)
					}
				}
			}
			w.logger.Debug("plugins directory changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "error", watchErr)

		case <-timer.C:
			w.onChange(ctx)
		}
	}
}

// addTree watches dir and its immediate plugin sub-directories.
func (w *Watcher) addTree(fw *fsnotify.Watcher) error {
	if err := fw.Add(w.dir); err != nil {
		return oops.In("watcher").With("dir", w.dir).Wrapf(err, "watch plugins directory")
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return oops.In("watcher").With("dir", w.dir).Wrapf(err, "read plugins directory")
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(w.dir, entry.Name())
		if err := fw.Add(sub); err != nil {
			w.logger.Warn("cannot watch plugin directory", "dir", sub, "error", err)
		}
	}
	return nil
}
