// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "sync"

// causes holds the two views of an unload reason for one plugin.
type causes struct {
	retained  UnloadCause // why the unload was originally requested
	displayed UnloadCause // what the next retry presents
}

// ReasonTracker records why unloads were requested.
//
// It keeps the origin cause separately from the cause currently displayed,
// so a request that has been deferred still remembers who asked for it.
// ReasonTracker is safe for concurrent use; the zero value is ready to use.
type ReasonTracker struct {
	mu      sync.RWMutex
	entries map[ID]causes
}

// NewReasonTracker creates an empty tracker.
func NewReasonTracker() *ReasonTracker {
	return &ReasonTracker{entries: make(map[ID]causes)}
}

// Record stores cause for id.
//
// Deferred only replaces the displayed cause; a retained origin cause is
// kept. Every other cause replaces both.
func (t *ReasonTracker) Record(id ID, cause UnloadCause) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries == nil {
		t.entries = make(map[ID]causes)
	}

	entry := t.entries[id]
	if cause == CauseDeferred {
		entry.displayed = CauseDeferred
	} else {
		entry.retained = cause
		entry.displayed = cause
	}
	t.entries[id] = entry
}

// Retained returns the remembered cause for id, CauseNone if nothing was
// recorded.
func (t *ReasonTracker) Retained(id ID) UnloadCause {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[id].retained
}

// Displayed returns the cause presented for id, CauseNone if nothing was
// recorded.
func (t *ReasonTracker) Displayed(id ID) UnloadCause {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[id].displayed
}

// HasOrigin reports whether an origin cause is retained for id.
func (t *ReasonTracker) HasOrigin(id ID) bool {
	return t.Retained(id).IsOrigin()
}

// Clear forgets everything recorded for id.
func (t *ReasonTracker) Clear(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}
