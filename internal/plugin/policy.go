// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

// CanLoad reports whether a plugin with descriptor d may be loaded while
// the host is in phase. A Loadable of Never is never satisfiable.
func CanLoad(d Descriptor, phase PhaseLevel) bool {
	if d.Loadable == Never {
		return false
	}
	return phase >= d.Loadable
}

// CanUnload reports whether a plugin with descriptor d may be unloaded
// while the host is in phase.
//
// AnyPause is satisfied either from Anytime upward or whenever the host is
// paused, whatever its nominal phase. A pause-tolerant plugin is therefore
// unloadable in strictly more situations than an Anytime plugin.
func CanUnload(d Descriptor, phase PhaseLevel, paused bool) bool {
	switch d.Unloadable {
	case Never:
		return false
	case AnyPause:
		return paused || phase >= Anytime
	default:
		return phase >= d.Unloadable
	}
}

// Decision is the outcome of an admission check.
type Decision int

// Admission outcomes.
const (
	DecisionAllowed   Decision = iota // operation may proceed now
	DecisionDeferred                  // unload must wait for a later phase
	DecisionDenied                    // load rejected for this phase
	DecisionForbidden                 // declared Never
	DecisionForced                    // policy bypassed
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionDeferred:
		return "deferred"
	case DecisionDenied:
		return "denied"
	case DecisionForbidden:
		return "forbidden"
	case DecisionForced:
		return "forced"
	default:
		return "unknown"
	}
}

// DecideLoad classifies a load request.
func DecideLoad(d Descriptor, phase PhaseLevel) Decision {
	switch {
	case d.Loadable == Never:
		return DecisionForbidden
	case CanLoad(d, phase):
		return DecisionAllowed
	default:
		return DecisionDenied
	}
}

// DecideUnload classifies an unload request. Forced causes bypass the
// policy entirely, including a Never declaration.
func DecideUnload(d Descriptor, phase PhaseLevel, paused bool, cause UnloadCause) Decision {
	switch {
	case cause.IsForced():
		return DecisionForced
	case d.Unloadable == Never:
		return DecisionForbidden
	case CanUnload(d, phase, paused):
		return DecisionAllowed
	default:
		return DecisionDeferred
	}
}
