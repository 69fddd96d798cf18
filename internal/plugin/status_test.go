// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestRuntimeStatus_Text(t *testing.T) {
	for _, st := range plugin.AllStatuses {
		text, err := st.MarshalText()
		require.NoError(t, err)

		var parsed plugin.RuntimeStatus
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, st, parsed)
	}

	var st plugin.RuntimeStatus
	errutil.AssertErrorCode(t, st.UnmarshalText([]byte("dormant")), plugin.CodeInvalidState)
	assert.Equal(t, "unknown", plugin.RuntimeStatus(42).String())
}

func TestRuntimeStatus_Transitional(t *testing.T) {
	assert.True(t, plugin.StatusLoading.Transitional())
	assert.True(t, plugin.StatusUnloading.Transitional())
	assert.False(t, plugin.StatusLoaded.Transitional())
	assert.False(t, plugin.StatusPendingUnload.Transitional())
	assert.False(t, plugin.StatusUnloaded.Transitional())
}

func TestStatus_JSON(t *testing.T) {
	st := plugin.Status{
		ID:         plugin.NewID(),
		Descriptor: validDescriptor("greeter"),
		ModulePath: "/plugins/greeter/main.lua",
		State:      plugin.StatusPendingUnload,
		Displayed:  plugin.CauseDeferred,
		Retained:   plugin.CauseOperatorCommand,
		LoadedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Reload:     true,
	}

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"pending_unload"`)
	assert.Contains(t, string(data), `"displayed_cause":"deferred"`)
	assert.Contains(t, string(data), `"retained_cause":"command"`)
	assert.Contains(t, string(data), `"loadable":"startup"`)

	var decoded plugin.Status
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, st, decoded)
}
