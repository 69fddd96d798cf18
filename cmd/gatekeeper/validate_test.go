// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/plugin"
)

func runValidateArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"validate"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateCmd_ValidManifest(t *testing.T) {
	dir := writeLuaPlugin(t, t.TempDir(), "greeter", "startup", "anypause")

	out, err := runValidateArgs(t, filepath.Join(dir, plugin.ManifestFile))
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "greeter 1.0.0 (lua, load startup, unload anypause)")
	assert.NotContains(t, out, "warning")
}

func TestValidateCmd_AcceptsPluginDirectory(t *testing.T) {
	dir := writeLuaPlugin(t, t.TempDir(), "greeter", "startup", "anytime")

	out, err := runValidateArgs(t, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "greeter 1.0.0")
}

func TestValidateCmd_WarnsAboutMissingModule(t *testing.T) {
	dir := writeLuaPlugin(t, t.TempDir(), "greeter", "startup", "anytime")
	require.NoError(t, os.Remove(filepath.Join(dir, "main.lua")))

	out, err := runValidateArgs(t, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "warning: module file")
}

func TestValidateCmd_InterfaceMismatch(t *testing.T) {
	dir := writeLuaPlugin(t, t.TempDir(), "greeter", "startup", "anytime")

	out, err := runValidateArgs(t, "--interface-version", "5:14", dir)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, plugin.CodeIncompatibleInterface)
}

func TestValidateCmd_SchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), plugin.ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte("name: broken\ntype: lua\nloadable: sometimes\n"), 0o600))

	out, err := runValidateArgs(t, path)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL "+path)
}

func TestValidateCmd_ReportsEveryFile(t *testing.T) {
	root := t.TempDir()
	good := writeLuaPlugin(t, root, "good", "startup", "anytime")
	missing := filepath.Join(root, "absent", plugin.ManifestFile)

	out, err := runValidateArgs(t, good, missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 manifests invalid")
	assert.Contains(t, out, "ok   "+good)
	assert.Contains(t, out, "FAIL "+missing)
}
