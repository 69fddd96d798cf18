// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_WritesSchema(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "plugin.schema.json")
	var stdout bytes.Buffer

	require.NoError(t, run([]string{"--out", out}, &stdout))
	assert.Contains(t, stdout.String(), "Generated "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "Gatekeeper Plugin Manifest", schema["title"])
}

func TestRun_CheckDetectsStaleSchema(t *testing.T) {
	out := filepath.Join(t.TempDir(), "plugin.schema.json")
	var stdout bytes.Buffer

	err := run([]string{"--check", "-o", out}, &stdout)
	require.Error(t, err, "missing file must fail the check")

	require.NoError(t, run([]string{"-o", out}, &stdout))
	require.NoError(t, run([]string{"--check", "-o", out}, &stdout))
	assert.Contains(t, stdout.String(), "is up to date")

	require.NoError(t, os.WriteFile(out, []byte("{}\n"), 0o600))
	err = run([]string{"--check", "-o", out}, &stdout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of date")
}
