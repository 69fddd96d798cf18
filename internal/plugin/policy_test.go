// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/holomush/gatekeeper/internal/plugin"
)

var allLevels = []plugin.PhaseLevel{plugin.Never, plugin.Startup, plugin.ChangeLevel, plugin.Anytime, plugin.AnyPause}

func TestCanLoad_Grid(t *testing.T) {
	for _, declared := range allLevels {
		for _, phase := range allLevels {
			d := plugin.Descriptor{Loadable: declared}
			want := phase >= declared && declared != plugin.Never
			assert.Equal(t, want, plugin.CanLoad(d, phase), "loadable=%s phase=%s", declared, phase)
		}
	}
}

func TestCanUnload_Grid(t *testing.T) {
	for _, declared := range allLevels {
		for _, phase := range allLevels {
			for _, paused := range []bool{false, true} {
				d := plugin.Descriptor{Unloadable: declared}
				var want bool
				switch declared {
				case plugin.Never:
					want = false
				case plugin.AnyPause:
					want = paused || phase >= plugin.Anytime
				default:
					want = phase >= declared
				}
				assert.Equal(t, want, plugin.CanUnload(d, phase, paused),
					"unloadable=%s phase=%s paused=%v", declared, phase, paused)
			}
		}
	}
}

func TestCanUnload_AnyPauseIsMorePermissiveThanAnytime(t *testing.T) {
	anyPause := plugin.Descriptor{Unloadable: plugin.AnyPause}
	anytime := plugin.Descriptor{Unloadable: plugin.Anytime}

	for _, phase := range []plugin.PhaseLevel{plugin.Startup, plugin.ChangeLevel} {
		assert.True(t, plugin.CanUnload(anyPause, phase, true), "anypause while paused in %s", phase)
		assert.False(t, plugin.CanUnload(anytime, phase, true), "anytime while paused in %s", phase)
		assert.False(t, plugin.CanUnload(anyPause, phase, false), "anypause unpaused in %s", phase)
	}
	for _, paused := range []bool{false, true} {
		assert.True(t, plugin.CanUnload(anyPause, plugin.Anytime, paused))
		assert.True(t, plugin.CanUnload(anytime, plugin.Anytime, paused))
	}
}

func TestDecideLoad(t *testing.T) {
	tests := []struct {
		loadable plugin.PhaseLevel
		phase    plugin.PhaseLevel
		want     plugin.Decision
	}{
		{plugin.Never, plugin.AnyPause, plugin.DecisionForbidden},
		{plugin.Startup, plugin.Startup, plugin.DecisionAllowed},
		{plugin.ChangeLevel, plugin.Startup, plugin.DecisionDenied},
		{plugin.Anytime, plugin.Anytime, plugin.DecisionAllowed},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s@%s", tt.loadable, tt.phase), func(t *testing.T) {
			assert.Equal(t, tt.want, plugin.DecideLoad(plugin.Descriptor{Loadable: tt.loadable}, tt.phase))
		})
	}
}

func TestDecideUnload(t *testing.T) {
	tests := []struct {
		name       string
		unloadable plugin.PhaseLevel
		phase      plugin.PhaseLevel
		paused     bool
		cause      plugin.UnloadCause
		want       plugin.Decision
	}{
		{"never rejects operator", plugin.Never, plugin.AnyPause, true, plugin.CauseOperatorCommand, plugin.DecisionForbidden},
		{"never yields to operator force", plugin.Never, plugin.Startup, false, plugin.CauseOperatorForced, plugin.DecisionForced},
		{"never yields to plugin force", plugin.Never, plugin.Startup, false, plugin.CausePluginForced, plugin.DecisionForced},
		{"never yields to reload force", plugin.Never, plugin.Startup, false, plugin.CauseReloadForced, plugin.DecisionForced},
		{"too early defers", plugin.ChangeLevel, plugin.Startup, false, plugin.CausePluginRequested, plugin.DecisionDeferred},
		{"phase reached allows", plugin.ChangeLevel, plugin.ChangeLevel, false, plugin.CauseConfigRemoved, plugin.DecisionAllowed},
		{"pause allows anypause", plugin.AnyPause, plugin.Startup, true, plugin.CauseOperatorCommand, plugin.DecisionAllowed},
		{"forced even when allowed", plugin.Anytime, plugin.Anytime, false, plugin.CauseOperatorForced, plugin.DecisionForced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := plugin.Descriptor{Unloadable: tt.unloadable}
			assert.Equal(t, tt.want, plugin.DecideUnload(d, tt.phase, tt.paused, tt.cause))
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "allowed", plugin.DecisionAllowed.String())
	assert.Equal(t, "deferred", plugin.DecisionDeferred.String())
	assert.Equal(t, "denied", plugin.DecisionDenied.String())
	assert.Equal(t, "forbidden", plugin.DecisionForbidden.String())
	assert.Equal(t, "forced", plugin.DecisionForced.String())
	assert.Equal(t, "unknown", plugin.Decision(99).String())
}
