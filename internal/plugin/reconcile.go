// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Catalog lists the plugins that should currently be registered.
type Catalog interface {
	Plugins(ctx context.Context) ([]*DiscoveredPlugin, error)
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(ctx context.Context) ([]*DiscoveredPlugin, error)

// Plugins implements Catalog.
func (f CatalogFunc) Plugins(ctx context.Context) ([]*DiscoveredPlugin, error) {
	return f(ctx)
}

// DirCatalog enables the plugins discovered in a directory whose names
// match at least one glob pattern.
type DirCatalog struct {
	dir      string
	patterns []glob.Glob
}

// NewDirCatalog compiles the enabled patterns. An empty pattern list
// enables nothing.
func NewDirCatalog(dir string, enabled []string) (*DirCatalog, error) {
	patterns := make([]glob.Glob, 0, len(enabled))
	for i, p := range enabled {
		if p == "" {
			return nil, oops.In("catalog").With("index", i).Errorf("empty enabled pattern")
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.In("catalog").With("pattern", p).Wrapf(err, "invalid enabled pattern")
		}
		patterns = append(patterns, g)
	}
	return &DirCatalog{dir: dir, patterns: patterns}, nil
}

// Enabled reports whether name matches an enabled pattern.
func (c *DirCatalog) Enabled(name string) bool {
	for _, g := range c.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Plugins implements Catalog.
func (c *DirCatalog) Plugins(ctx context.Context) ([]*DiscoveredPlugin, error) {
	discovered, err := Discover(ctx, c.dir)
	if err != nil {
		return nil, err
	}
	enabled := discovered[:0]
	for _, dp := range discovered {
		if c.Enabled(dp.Manifest.Name) {
			enabled = append(enabled, dp)
		}
	}
	return enabled, nil
}

// RefreshReport summarizes what a refresh changed.
type RefreshReport struct {
	Registered []string `json:"registered,omitempty"`
	Loaded     []string `json:"loaded,omitempty"`
	Unloaded   []string `json:"unloaded,omitempty"`
	Deferred   []string `json:"deferred,omitempty"`
	Restored   []string `json:"restored,omitempty"`
	Purged     []string `json:"purged,omitempty"`
}

// Reconciler brings the registry in line with a Catalog.
type Reconciler struct {
	registry *Registry
	catalog  Catalog
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewReconciler creates a reconciler. Panics if registry or catalog is nil.
func NewReconciler(registry *Registry, catalog Catalog, logger *slog.Logger) *Reconciler {
	if registry == nil || catalog == nil {
		panic("plugin: reconciler needs a registry and a catalog")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{registry: registry, catalog: catalog, logger: logger}
}

// Refresh re-reads the catalog and applies the differences:
//   - newly enabled plugins are registered and loaded if their load phase
//     has been reached;
//   - plugins no longer enabled are unloaded with ConfigRemoved and purged
//     once unloaded;
//   - loaded plugins whose module file changed on disk, or whose manifest
//     changed, are unloaded with NewerFileOnDisk and registered again;
//   - a plugin enabled again while its ConfigRemoved unload is still
//     pending has that unload cancelled;
//   - unloaded plugins that were never loaded, or were unloaded for a newer
//     file or a config removal since undone, are loaded. Plugins an operator
//     unloaded stay unloaded.
//   - plugins declared never unloadable are left loaded and only logged;
//     the change applies after a restart.
//
// Errors from individual plugins are joined; a failing plugin does not stop
// the rest of the refresh.
func (rc *Reconciler) Refresh(ctx context.Context) (RefreshReport, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	var report RefreshReport
	wanted, err := rc.catalog.Plugins(ctx)
	if err != nil {
		return report, oops.In("reconcile").Wrapf(err, "read plugin catalog")
	}
	byName := make(map[string]*DiscoveredPlugin, len(wanted))
	for _, dp := range wanted {
		byName[dp.Manifest.Name] = dp
	}

	var errs []error
	for _, st := range rc.registry.List() {
		name := st.Descriptor.Name
		dp, ok := byName[name]

		// A plugin whose module moved is removed here and registered afresh
		// below once purged.
		if !ok || dp.ModulePath() != st.ModulePath {
			errs = append(errs, rc.remove(ctx, st, &report))
			continue
		}

		changed := dp.Manifest.Descriptor != st.Descriptor
		switch st.State {
		case StatusPendingUnload:
			if st.Retained != CauseConfigRemoved {
				continue
			}
			if err := rc.registry.CancelPending(st.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Restored = append(report.Restored, name)
			st.State = StatusLoaded
			errs = append(errs, rc.refreshLoaded(ctx, st, dp, changed, &report))
		case StatusLoaded:
			errs = append(errs, rc.refreshLoaded(ctx, st, dp, changed, &report))
		case StatusUnloaded:
			if changed {
				errs = append(errs, rc.replace(ctx, st, dp, &report))
				continue
			}
			switch st.Retained {
			case CauseNone, CauseNewerFileOnDisk, CauseConfigRemoved:
				errs = append(errs, rc.load(ctx, st.ID, name, &report))
			}
		}
	}

	for _, dp := range wanted {
		if _, ok := rc.registry.Lookup(dp.Manifest.Name); ok {
			continue
		}
		errs = append(errs, rc.add(ctx, dp, &report))
	}

	return report, errors.Join(errs...)
}

// refreshLoaded replaces a loaded plugin whose manifest or module file
// changed.
func (rc *Reconciler) refreshLoaded(ctx context.Context, st Status, dp *DiscoveredPlugin, changed bool, report *RefreshReport) error {
	if !changed && !fileNewer(st.ModulePath, st) {
		return nil
	}
	rc.logVersionChange(st.Descriptor, dp.Manifest.Descriptor)
	return rc.replace(ctx, st, dp, report)
}

func (rc *Reconciler) remove(ctx context.Context, st Status, report *RefreshReport) error {
	state, unloadErr := rc.unload(ctx, st, CauseConfigRemoved, report)
	if state != StatusUnloaded {
		return unloadErr
	}
	if err := rc.registry.Purge(st.ID); err != nil {
		return errors.Join(unloadErr, err)
	}
	report.Purged = append(report.Purged, st.Descriptor.Name)
	return unloadErr
}

// replace unloads a registered plugin and registers its new manifest.
func (rc *Reconciler) replace(ctx context.Context, st Status, dp *DiscoveredPlugin, report *RefreshReport) error {
	state, unloadErr := rc.unload(ctx, st, CauseNewerFileOnDisk, report)
	if state != StatusUnloaded {
		return unloadErr
	}
	if err := rc.registry.Purge(st.ID); err != nil {
		return errors.Join(unloadErr, err)
	}
	return errors.Join(unloadErr, rc.add(ctx, dp, report))
}

// unload requests an unload for Loaded or PendingUnload plugins and returns
// the resulting state. An Unloaded plugin, or one that can never be
// unloaded at runtime, is returned as is.
func (rc *Reconciler) unload(ctx context.Context, st Status, cause UnloadCause, report *RefreshReport) (RuntimeStatus, error) {
	if st.State != StatusLoaded && st.State != StatusPendingUnload {
		return st.State, nil
	}
	name := st.Descriptor.Name
	if st.Descriptor.Unloadable == Never {
		rc.logger.Info("plugin cannot be unloaded at runtime; change applies after restart",
			"plugin", name,
			"cause", cause.String())
		return st.State, nil
	}
	state, err := rc.registry.RequestUnload(ctx, st.ID, cause)
	switch state {
	case StatusPendingUnload:
		report.Deferred = append(report.Deferred, name)
	case StatusUnloaded:
		report.Unloaded = append(report.Unloaded, name)
	}
	return state, err
}

func (rc *Reconciler) add(ctx context.Context, dp *DiscoveredPlugin, report *RefreshReport) error {
	id, err := rc.registry.Register(dp.Manifest.Descriptor, dp.ModulePath())
	if err != nil {
		return err
	}
	report.Registered = append(report.Registered, dp.Manifest.Name)
	return rc.load(ctx, id, dp.Manifest.Name, report)
}

func (rc *Reconciler) load(ctx context.Context, id ID, name string, report *RefreshReport) error {
	err := rc.registry.RequestLoad(ctx, id)
	switch {
	case err == nil:
		report.Loaded = append(report.Loaded, name)
		return nil
	case ErrorCode(err) == CodeNotYetLoadable:
		rc.logger.Debug("plugin not loadable yet", "plugin", name, "error", err)
		return nil
	default:
		errutil.LogError(rc.logger, "refresh could not load plugin", err)
		return err
	}
}

func (rc *Reconciler) logVersionChange(old, updated Descriptor) {
	change := "changed"
	ov, oerr := semver.NewVersion(old.Version)
	nv, nerr := semver.NewVersion(updated.Version)
	if oerr == nil && nerr == nil {
		switch nv.Compare(ov) {
		case 1:
			change = "upgrade"
		case -1:
			change = "downgrade"
		default:
			change = "rebuild"
		}
	}
	rc.logger.Info("plugin module changed on disk",
		"plugin", old.Name,
		"change", change,
		"old_version", old.Version,
		"new_version", updated.Version)
}

func fileNewer(path string, st Status) bool {
	if st.LoadedAt.IsZero() {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().After(st.LoadedAt)
}
