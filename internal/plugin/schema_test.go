// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/plugin"
)

func TestValidateSchema_ValidManifests(t *testing.T) {
	require.NoError(t, plugin.ValidateSchema([]byte(luaManifest)))
	require.NoError(t, plugin.ValidateSchema([]byte(binaryManifest)))
}

func TestValidateSchema_UnquotedDate(t *testing.T) {
	yaml := strings.Replace(luaManifest, `date: "2026-03-01"`, "date: 2026-03-01", 1)
	require.NoError(t, plugin.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_Violations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", strings.Replace(luaManifest, "name: greeter", "", 1)},
		{"missing ifvers", strings.Replace(luaManifest, `ifvers: "5:13"`, "", 1)},
		{"missing loadable", strings.Replace(luaManifest, "loadable: changelevel", "", 1)},
		{"name pattern", strings.Replace(luaManifest, "name: greeter", "name: _greeter", 1)},
		{"name too long", strings.Replace(luaManifest, "name: greeter", "name: "+strings.Repeat("g", 65), 1)},
		{"unknown phase", strings.Replace(luaManifest, "unloadable: anytime", "unloadable: later", 1)},
		{"unknown type", strings.Replace(luaManifest, "type: lua", "type: wasm", 1)},
		{"entry not a string", strings.Replace(luaManifest, "entry: main.lua", "entry: [main.lua]", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plugin.ValidateSchema([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation failed")
		})
	}
}

func TestValidateSchema_NameAtMaxLength(t *testing.T) {
	yaml := strings.Replace(luaManifest, "name: greeter", "name: "+strings.Repeat("g", 64), 1)
	require.NoError(t, plugin.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_BadInput(t *testing.T) {
	err := plugin.ValidateSchema(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	err = plugin.ValidateSchema([]byte("name: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, plugin.GetSchemaID(), schema["$id"])
	assert.Equal(t, "Gatekeeper Plugin Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema has properties")
	for _, key := range []string{"ifvers", "name", "version", "loadable", "unloadable", "type", "lua-plugin", "binary-plugin"} {
		assert.Contains(t, props, key)
	}

	loadable, ok := props["loadable"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"never", "startup", "changelevel", "anytime", "anypause"}, loadable["enum"])
}

func TestResetSchemaCache(t *testing.T) {
	require.NoError(t, plugin.ValidateSchema([]byte(luaManifest)))
	plugin.ResetSchemaCache()
	require.NoError(t, plugin.ValidateSchema([]byte(luaManifest)))
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, plugin.FormatSchemaError(nil))
	assert.Equal(t, "boom", plugin.FormatSchemaError(errors.New("schema validation failed: boom")))
	assert.Equal(t, "other", plugin.FormatSchemaError(errors.New("other")))
}
