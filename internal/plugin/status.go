// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"time"

	"github.com/samber/oops"
)

// RuntimeStatus is the lifecycle state of a registered plugin.
type RuntimeStatus int

// Runtime states. A record moves Unloaded → Loading → Loaded →
// PendingUnload → Unloading → Unloaded; Loading may fall back to Unloaded.
const (
	StatusUnloaded RuntimeStatus = iota
	StatusLoading
	StatusLoaded
	StatusPendingUnload
	StatusUnloading
)

// AllStatuses lists every runtime state in lifecycle order.
var AllStatuses = []RuntimeStatus{
	StatusUnloaded, StatusLoading, StatusLoaded, StatusPendingUnload, StatusUnloading,
}

func (s RuntimeStatus) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusPendingUnload:
		return "pending_unload"
	case StatusUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RuntimeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RuntimeStatus) UnmarshalText(text []byte) error {
	for _, st := range AllStatuses {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return oops.Code(CodeInvalidState).With("status", string(text)).Errorf("unknown runtime status %q", text)
}

// Transitional reports whether a loader call is in flight for the record.
func (s RuntimeStatus) Transitional() bool {
	return s == StatusLoading || s == StatusUnloading
}

// Status is a point-in-time view of a plugin record.
type Status struct {
	ID         ID            `json:"id"`
	Descriptor Descriptor    `json:"descriptor"`
	ModulePath string        `json:"module_path"`
	State      RuntimeStatus `json:"state"`
	Displayed  UnloadCause   `json:"displayed_cause"`
	Retained   UnloadCause   `json:"retained_cause"`
	LoadedAt   time.Time     `json:"loaded_at,omitzero"`
	Reload     bool          `json:"reload_pending,omitempty"`
}
