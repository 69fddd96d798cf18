// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"strings"

	"github.com/samber/oops"
)

// UnloadCause records why an unload was requested.
//
// Origin causes name who or what triggered the request. Meta causes describe
// how the request is being processed: Deferred marks a request queued for a
// later retry, ReloadForced marks an internal forced reload cycle.
type UnloadCause int

// Unload causes.
const (
	CauseNone            UnloadCause = iota
	CauseConfigRemoved               // dropped from the enabled plugins list
	CauseNewerFileOnDisk             // module file on disk is newer than the loaded one
	CauseOperatorCommand             // requested by an operator command
	CauseOperatorForced              // forced by an operator command
	CauseDeferred                    // delayed from a previous request; origin not shown
	CausePluginRequested             // requested by the plugin itself
	CausePluginForced                // forced by the plugin itself
	CauseReloadForced                // forced unload by a reload
)

var causeNames = [...]string{
	CauseNone:            "none",
	CauseConfigRemoved:   "config_removed",
	CauseNewerFileOnDisk: "file_newer",
	CauseOperatorCommand: "command",
	CauseOperatorForced:  "command_forced",
	CauseDeferred:        "deferred",
	CausePluginRequested: "plugin",
	CausePluginForced:    "plugin_forced",
	CauseReloadForced:    "reload",
}

// String returns the cause name used in logs, metrics and the console.
func (c UnloadCause) String() string {
	if c < CauseNone || c > CauseReloadForced {
		return "unknown"
	}
	return causeNames[c]
}

// ParseUnloadCause parses a cause name as produced by String.
func ParseUnloadCause(s string) (UnloadCause, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for i, name := range causeNames {
		if normalized == name {
			return UnloadCause(i), nil
		}
	}
	return CauseNone, oops.Code(CodeInvalidCause).
		With("cause", s).
		Errorf("unknown unload cause %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c UnloadCause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *UnloadCause) UnmarshalText(text []byte) error {
	parsed, err := ParseUnloadCause(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// IsOrigin reports whether c names the trigger of a request rather than how
// it is being processed.
func (c UnloadCause) IsOrigin() bool {
	switch c {
	case CauseConfigRemoved, CauseNewerFileOnDisk, CauseOperatorCommand,
		CauseOperatorForced, CausePluginRequested, CausePluginForced:
		return true
	default:
		return false
	}
}

// IsMeta reports whether c is Deferred or ReloadForced.
func (c UnloadCause) IsMeta() bool {
	return c == CauseDeferred || c == CauseReloadForced
}

// IsForced reports whether c bypasses the unload policy.
func (c UnloadCause) IsForced() bool {
	return c == CauseOperatorForced || c == CausePluginForced || c == CauseReloadForced
}
