// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// fakeLoader stands in for the binary loader.
type fakeLoader struct {
	mu     sync.Mutex
	loads  int
	closed bool
}

func (f *fakeLoader) Load(_ context.Context, path string) (plugin.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return path, nil
}

func (f *fakeLoader) Unload(_ context.Context, _ plugin.Handle) error { return nil }

func (f *fakeLoader) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeLoader) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// writeLuaPlugin creates dir/name with a manifest and a script that loads
// and unloads cleanly.
func writeLuaPlugin(t *testing.T, dir, name, loadable, unloadable string) string {
	t.Helper()
	pluginDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pluginDir, 0o750))

	manifest := fmt.Sprintf(`ifvers: "%s"
name: %s
version: 1.0.0
author: Test
loadable: %s
unloadable: %s
type: lua
lua-plugin:
  entry: main.lua
`, plugin.InterfaceVersion, name, loadable, unloadable)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, plugin.ManifestFile), []byte(manifest), 0o600))

	script := `
function plugin_load()
  gatekeeper.log("info", "loaded")
  return true
end

function plugin_unload()
  return true
end
`
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "main.lua"), []byte(script), 0o600))
	return pluginDir
}

// shortSocketPath returns a socket path short enough for sun_path.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "gk")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}
