// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"strings"

	"github.com/samber/oops"
)

// PhaseLevel is an ordered permission tier. Plugins declare one level for
// when they may be loaded and one for when they may be unloaded; the host
// reports its current phase on the same scale.
//
// The numeric order is significant: admission checks compare levels with >=.
type PhaseLevel int

// Phase levels, least to most permissive.
const (
	Never       PhaseLevel = iota // operation never permitted at runtime
	Startup                       // only during initial host startup
	ChangeLevel                   // between rounds
	Anytime                       // at any time
	AnyPause                      // at any time, including mid-round while the host is paused
)

var phaseNames = [...]string{
	Never:       "never",
	Startup:     "startup",
	ChangeLevel: "changelevel",
	Anytime:     "anytime",
	AnyPause:    "anypause",
}

// String returns the lowercase name used in manifests and the console.
func (l PhaseLevel) String() string {
	if l < Never || l > AnyPause {
		return "unknown"
	}
	return phaseNames[l]
}

// Valid reports whether l is one of the declared levels.
func (l PhaseLevel) Valid() bool {
	return l >= Never && l <= AnyPause
}

// ParsePhaseLevel parses a level name. Matching is case-insensitive and
// accepts the "change_level"/"any_pause" spellings.
func ParsePhaseLevel(s string) (PhaseLevel, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
	for i, name := range phaseNames {
		if normalized == name {
			return PhaseLevel(i), nil
		}
	}
	return Never, oops.Code(CodeInvalidPhase).
		With("phase", s).
		Errorf("unknown phase level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l PhaseLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, oops.Code(CodeInvalidPhase).With("phase", int(l)).Errorf("invalid phase level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *PhaseLevel) UnmarshalText(text []byte) error {
	parsed, err := ParsePhaseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// PhaseChange describes a host phase or pause-state transition.
type PhaseChange struct {
	Phase        PhaseLevel
	Paused       bool
	Previous     PhaseLevel
	WasPaused    bool
	PhaseChanged bool
}

// PhaseSource reports the host's execution phase and notifies subscribers
// of every phase or pause change.
type PhaseSource interface {
	// CurrentPhase returns the host's current phase.
	CurrentPhase() PhaseLevel

	// IsPaused reports whether the host is explicitly paused.
	IsPaused() bool

	// Subscribe registers fn to be called after every phase or pause change.
	// The returned function removes the subscription.
	Subscribe(fn func(PhaseChange)) (unsubscribe func())
}
