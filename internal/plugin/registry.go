// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin decides when plugins may be loaded and unloaded and drives
// them through their lifecycle.
package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

const tracerName = "github.com/holomush/gatekeeper/internal/plugin"

// DefaultLoaderTimeout bounds a single loader Load or Unload call.
const DefaultLoaderTimeout = 30 * time.Second

// record is the registry's private, mutable state for one plugin.
type record struct {
	id         ID
	desc       Descriptor
	modulePath string
	state      RuntimeStatus
	handle     Handle
	loadedAt   time.Time
	reload     bool
}

// Registry is the authoritative table of registered plugins.
//
// Every transition goes through the Registry. Loader calls run outside the
// table lock; a record in Loading or Unloading is claimed by the call in
// flight, so requests against it fail until it settles while other plugins
// proceed independently.
type Registry struct {
	loader           Loader
	phases           PhaseSource
	reasons          *ReasonTracker
	interfaceVersion string
	loaderTimeout    time.Duration
	logger           *slog.Logger
	tracer           trace.Tracer
	now              func() time.Time

	mu      sync.Mutex
	records map[ID]*record
	byName  map[string]ID
	closed  bool
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithInterfaceVersion overrides the host interface version descriptors are
// checked against.
func WithInterfaceVersion(v string) RegistryOption {
	return func(r *Registry) {
		r.interfaceVersion = v
	}
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithLoaderTimeout bounds each loader call. Zero disables the bound.
func WithLoaderTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.loaderTimeout = d
	}
}

// WithClock overrides the time source used for load timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry.
// Panics if loader or phases is nil.
func NewRegistry(loader Loader, phases PhaseSource, opts ...RegistryOption) *Registry {
	if loader == nil {
		panic("plugin: loader cannot be nil")
	}
	if phases == nil {
		panic("plugin: phase source cannot be nil")
	}
	r := &Registry{
		loader:           loader,
		phases:           phases,
		reasons:          NewReasonTracker(),
		interfaceVersion: InterfaceVersion,
		loaderTimeout:    DefaultLoaderTimeout,
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
		now:              time.Now,
		records:          make(map[ID]*record),
		byName:           make(map[string]ID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a plugin in the Unloaded state and returns its ID.
func (r *Registry) Register(d Descriptor, modulePath string) (ID, error) {
	if err := d.Validate(r.interfaceVersion); err != nil {
		return "", err
	}
	if modulePath == "" {
		return "", ErrRegistration(d.Name, "module path is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistration(d.Name, "registry is closed")
	}
	if _, ok := r.byName[d.Name]; ok {
		return "", ErrRegistration(d.Name, "name already registered")
	}
	for _, rec := range r.records {
		if rec.modulePath == modulePath {
			return "", ErrRegistration(d.Name, "module already registered as "+rec.desc.Name)
		}
	}

	id := NewID()
	r.records[id] = &record{
		id:         id,
		desc:       d,
		modulePath: modulePath,
		state:      StatusUnloaded,
	}
	r.byName[d.Name] = id
	PluginsByStatus.WithLabelValues(StatusUnloaded.String()).Inc()

	r.pluginLogger(d).Info("registered plugin",
		"id", id,
		"version", d.Version,
		"loadable", d.Loadable.String(),
		"unloadable", d.Unloadable.String())
	return id, nil
}

// RequestLoad loads an Unloaded plugin if its declared load phase has been
// reached. Load requests are never queued.
func (r *Registry) RequestLoad(ctx context.Context, id ID) error {
	r.mu.Lock()
	rec, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed(rec.desc.Name, "load")
	}
	if rec.state != StatusUnloaded {
		r.mu.Unlock()
		return ErrInvalidState(rec.desc.Name, "load", rec.state)
	}

	phase := r.phases.CurrentPhase()
	decision := DecideLoad(rec.desc, phase)
	recordDecision("load", decision)
	if decision != DecisionAllowed {
		r.mu.Unlock()
		return ErrNotYetLoadable(rec.desc.Name, rec.desc.Loadable, phase)
	}

	r.setStateLocked(rec, StatusLoading)
	modulePath := rec.modulePath
	r.mu.Unlock()

	handle, loadErr := r.callLoad(ctx, rec.desc, modulePath)

	r.mu.Lock()
	if loadErr != nil {
		r.setStateLocked(rec, StatusUnloaded)
		r.mu.Unlock()
		err := ErrLoadFailed(rec.desc.Name, loadErr)
		errutil.LogError(r.pluginLogger(rec.desc), "plugin load failed", err)
		return err
	}
	if r.closed {
		// Close ran while the loader was busy and could not see this record.
		r.reasons.Record(id, CauseOperatorForced)
		r.setStateLocked(rec, StatusUnloading)
		r.mu.Unlock()
		return r.discardLoaded(ctx, rec, handle)
	}
	defer r.mu.Unlock()

	rec.handle = handle
	rec.loadedAt = r.now()
	r.reasons.Clear(id)
	r.setStateLocked(rec, StatusLoaded)
	r.pluginLogger(rec.desc).Info("loaded plugin", "id", id, "phase", phase.String())
	return nil
}

// RequestUnload asks for a Loaded or PendingUnload plugin to be unloaded.
//
// Forced causes unload immediately. Otherwise the unload policy decides:
// an admissible request unloads now, an inadmissible one leaves the plugin
// in PendingUnload until a later RetryPending, and a plugin declared never
// unloadable is rejected outright. The returned status is the record's
// state once the call returns.
func (r *Registry) RequestUnload(ctx context.Context, id ID, cause UnloadCause) (RuntimeStatus, error) {
	return r.unload(ctx, id, cause, false)
}

// Reload unloads a plugin and loads it again once the unload completes,
// which may be immediately or during a later RetryPending. Reloading an
// Unloaded plugin simply loads it.
func (r *Registry) Reload(ctx context.Context, id ID, cause UnloadCause) (RuntimeStatus, error) {
	r.mu.Lock()
	rec, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return StatusUnloaded, err
	}
	state := rec.state
	r.mu.Unlock()

	if state == StatusUnloaded {
		if err := r.RequestLoad(ctx, id); err != nil {
			return r.stateOf(id), err
		}
		return r.stateOf(id), nil
	}
	return r.unload(ctx, id, cause, true)
}

func (r *Registry) unload(ctx context.Context, id ID, cause UnloadCause, reload bool) (RuntimeStatus, error) {
	r.mu.Lock()
	rec, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return StatusUnloaded, err
	}
	if cause == CauseNone {
		r.mu.Unlock()
		return rec.state, ErrInvalidCause(rec.desc.Name, cause)
	}
	if rec.state != StatusLoaded && rec.state != StatusPendingUnload {
		r.mu.Unlock()
		return rec.state, ErrInvalidState(rec.desc.Name, "unload", rec.state)
	}
	UnloadRequests.WithLabelValues(cause.String()).Inc()

	phase, paused := r.phases.CurrentPhase(), r.phases.IsPaused()
	decision := DecideUnload(rec.desc, phase, paused, cause)
	recordDecision("unload", decision)
	logger := r.pluginLogger(rec.desc)

	switch decision {
	case DecisionForbidden:
		r.mu.Unlock()
		return rec.state, ErrLifecycleForbidden(rec.desc.Name, cause)

	case DecisionDeferred:
		if r.reasons.HasOrigin(id) {
			r.reasons.Record(id, CauseDeferred)
		} else {
			r.reasons.Record(id, cause)
		}
		rec.reload = reload
		if rec.state != StatusPendingUnload {
			r.setStateLocked(rec, StatusPendingUnload)
		}
		logger.Info("unload deferred",
			"id", id,
			"cause", cause.String(),
			"phase", phase.String(),
			"paused", paused,
			"unloadable", rec.desc.Unloadable.String())
		r.mu.Unlock()
		return StatusPendingUnload, nil

	default:
		r.reasons.Record(id, cause)
		rec.reload = reload
		handle := r.beginUnloadLocked(rec)
		r.mu.Unlock()
		logger.Info("unloading plugin",
			"id", id,
			"cause", cause.String(),
			"forced", decision == DecisionForced)
		return r.finishUnload(ctx, rec, handle)
	}
}

// RetryPending re-evaluates every PendingUnload plugin against the current
// phase and unloads those that are now admissible, presenting the retained
// origin cause. It is a no-op when nothing became admissible.
func (r *Registry) RetryPending(ctx context.Context) error {
	phase, paused := r.phases.CurrentPhase(), r.phases.IsPaused()

	type ready struct {
		rec    *record
		handle Handle
	}

	r.mu.Lock()
	var batch []ready
	for _, rec := range r.sortedLocked() {
		if rec.state != StatusPendingUnload || !CanUnload(rec.desc, phase, paused) {
			continue
		}
		recordDecision("unload", DecisionAllowed)
		cause := r.reasons.Retained(rec.id)
		if cause == CauseNone {
			cause = r.reasons.Displayed(rec.id)
		}
		r.reasons.Record(rec.id, cause)
		batch = append(batch, ready{rec: rec, handle: r.beginUnloadLocked(rec)})
		r.pluginLogger(rec.desc).Info("retrying deferred unload",
			"id", rec.id,
			"cause", cause.String(),
			"phase", phase.String(),
			"paused", paused)
	}
	r.mu.Unlock()

	var errs []error
	for _, item := range batch {
		if _, err := r.finishUnload(ctx, item.rec, item.handle); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelPending returns a PendingUnload plugin to Loaded and forgets the
// recorded causes.
func (r *Registry) CancelPending(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookupLocked(id)
	if err != nil {
		return err
	}
	if rec.state != StatusPendingUnload {
		return ErrInvalidState(rec.desc.Name, "cancel pending unload of", rec.state)
	}
	rec.reload = false
	r.reasons.Clear(id)
	r.setStateLocked(rec, StatusLoaded)
	r.pluginLogger(rec.desc).Info("cancelled pending unload", "id", id)
	return nil
}

// Purge removes an Unloaded plugin from the registry.
func (r *Registry) Purge(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookupLocked(id)
	if err != nil {
		return err
	}
	if rec.state != StatusUnloaded {
		return ErrInvalidState(rec.desc.Name, "purge", rec.state)
	}
	delete(r.records, id)
	delete(r.byName, rec.desc.Name)
	r.reasons.Clear(id)
	PluginsByStatus.WithLabelValues(StatusUnloaded.String()).Dec()
	r.pluginLogger(rec.desc).Info("purged plugin", "id", id)
	return nil
}

// QueryStatus returns the state and both unload causes of a plugin.
func (r *Registry) QueryStatus(id ID) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookupLocked(id)
	if err != nil {
		return Status{}, err
	}
	return r.statusLocked(rec), nil
}

// Lookup returns the ID registered under name.
func (r *Registry) Lookup(name string) (ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// List returns a snapshot of every registered plugin, sorted by name.
func (r *Registry) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.sortedLocked()
	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.statusLocked(rec))
	}
	return out
}

// Bind subscribes the registry to source so that every phase or pause
// change retries pending unloads. The returned function unsubscribes.
func (r *Registry) Bind(ctx context.Context, source PhaseSource) (unbind func()) {
	return source.Subscribe(func(change PhaseChange) {
		r.logger.Debug("host phase changed",
			"phase", change.Phase.String(),
			"paused", change.Paused,
			"previous", change.Previous.String())
		if err := r.RetryPending(ctx); err != nil {
			errutil.LogError(r.logger, "retry pending unloads failed", err)
		}
	})
}

// Close force-unloads every Loaded or PendingUnload plugin, as a host
// shutdown does, and rejects further registrations and loads. A load in
// flight when Close runs is unloaded as soon as it completes. Errors from
// individual unloads are joined.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var ids []ID
	for _, rec := range r.sortedLocked() {
		if rec.state == StatusLoaded || rec.state == StatusPendingUnload {
			ids = append(ids, rec.id)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := r.unload(ctx, id, CauseOperatorForced, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// discardLoaded unloads a handle whose load completed after Close. The
// record ends Unloaded and the load is reported as rejected.
func (r *Registry) discardLoaded(ctx context.Context, rec *record, handle Handle) error {
	unloadErr := r.callUnload(ctx, rec.desc, handle)

	r.mu.Lock()
	r.setStateLocked(rec, StatusUnloaded)
	r.mu.Unlock()

	logger := r.pluginLogger(rec.desc)
	if unloadErr != nil {
		err := ErrUnloadFailed(rec.desc.Name, unloadErr)
		errutil.LogError(logger, "plugin unload after close failed", err)
		return err
	}
	logger.Info("unloaded plugin loaded during close", "id", rec.id)
	return ErrRegistryClosed(rec.desc.Name, "load")
}

// beginUnloadLocked claims rec for an unload and releases its handle.
func (r *Registry) beginUnloadLocked(rec *record) Handle {
	handle := rec.handle
	rec.handle = nil
	r.setStateLocked(rec, StatusUnloading)
	return handle
}

// finishUnload runs the loader for a record already in Unloading. The record
// ends Unloaded whether or not the loader succeeded.
func (r *Registry) finishUnload(ctx context.Context, rec *record, handle Handle) (RuntimeStatus, error) {
	unloadErr := r.callUnload(ctx, rec.desc, handle)

	r.mu.Lock()
	r.setStateLocked(rec, StatusUnloaded)
	rec.loadedAt = time.Time{}
	reload := rec.reload
	rec.reload = false
	cause := r.reasons.Displayed(rec.id)
	r.mu.Unlock()

	logger := r.pluginLogger(rec.desc)
	if unloadErr != nil {
		err := ErrUnloadFailed(rec.desc.Name, unloadErr)
		errutil.LogError(logger, "plugin unload failed", err)
		return StatusUnloaded, err
	}
	logger.Info("unloaded plugin", "id", rec.id, "cause", cause.String())

	if !reload {
		return StatusUnloaded, nil
	}
	if err := r.RequestLoad(ctx, rec.id); err != nil {
		return r.stateOf(rec.id), err
	}
	return r.stateOf(rec.id), nil
}

func (r *Registry) callLoad(ctx context.Context, d Descriptor, modulePath string) (Handle, error) {
	// Transitions run to completion once started, bounded only by the
	// loader timeout.
	ctx, cancel := r.loaderContext(ctx)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "plugin.load", trace.WithAttributes(
		attribute.String("plugin.name", d.Name),
		attribute.String("plugin.module", modulePath),
	))
	defer span.End()

	start := time.Now()
	handle, err := r.loader.Load(ctx, modulePath)
	recordLoaderCall("load", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
	}
	return handle, err
}

func (r *Registry) callUnload(ctx context.Context, d Descriptor, handle Handle) error {
	ctx, cancel := r.loaderContext(ctx)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "plugin.unload", trace.WithAttributes(
		attribute.String("plugin.name", d.Name),
	))
	defer span.End()

	start := time.Now()
	err := r.loader.Unload(ctx, handle)
	recordLoaderCall("unload", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unload failed")
	}
	return err
}

func (r *Registry) loaderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if r.loaderTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.loaderTimeout)
}

func (r *Registry) setStateLocked(rec *record, to RuntimeStatus) {
	from := rec.state
	rec.state = to
	recordTransition(from, to)
}

func (r *Registry) lookupLocked(id ID) (*record, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound(string(id))
	}
	return rec, nil
}

func (r *Registry) stateOf(id ID) RuntimeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec.state
	}
	return StatusUnloaded
}

func (r *Registry) statusLocked(rec *record) Status {
	return Status{
		ID:         rec.id,
		Descriptor: rec.desc,
		ModulePath: rec.modulePath,
		State:      rec.state,
		Displayed:  r.reasons.Displayed(rec.id),
		Retained:   r.reasons.Retained(rec.id),
		LoadedAt:   rec.loadedAt,
		Reload:     rec.reload,
	}
}

// sortedLocked returns records ordered by name for deterministic iteration.
func (r *Registry) sortedLocked() []*record {
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].desc.Name < recs[j].desc.Name
	})
	return recs
}

func (r *Registry) pluginLogger(d Descriptor) *slog.Logger {
	return r.logger.With("plugin", d.Name, "log_tag", d.Tag())
}
