// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// writePlugin writes a lua plugin directory named after the plugin and
// returns the path of its module file.
func writePlugin(t *testing.T, root, name, version string, loadable, unloadable plugin.PhaseLevel) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := fmt.Sprintf(`ifvers: %q
name: %s
version: %s
loadable: %s
unloadable: %s
type: lua
lua-plugin:
  entry: main.lua
`, plugin.InterfaceVersion, name, version, loadable, unloadable)
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o600))
	module := filepath.Join(dir, "main.lua")
	require.NoError(t, os.WriteFile(module, []byte("function plugin_load() end\n"), 0o600))
	return module
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "zeta", "1.0.0", plugin.Startup, plugin.Anytime)
	writePlugin(t, root, "alpha", "1.0.0", plugin.ChangeLevel, plugin.Never)

	// Skipped: a stray file, a directory without manifest and a broken manifest.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	broken := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, plugin.ManifestFile), []byte("name: ["), 0o600))

	found, err := plugin.Discover(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "alpha", found[0].Manifest.Name)
	assert.Equal(t, "zeta", found[1].Manifest.Name)
	assert.Equal(t, filepath.Join(root, "alpha", "main.lua"), found[0].ModulePath())
	assert.Equal(t, plugin.Never, found[0].Manifest.Unloadable)
}

func TestDiscover_DuplicateNames(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "greeter", "1.0.0", plugin.Startup, plugin.Anytime)

	// A second directory declaring the same plugin name.
	dup := filepath.Join(root, "greeter-copy")
	require.NoError(t, os.MkdirAll(dup, 0o755))
	data, err := os.ReadFile(filepath.Join(root, "greeter", plugin.ManifestFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dup, plugin.ManifestFile), data, 0o600))

	found, err := plugin.Discover(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, filepath.Join(root, "greeter"), found[0].Dir)
}

func TestDiscover_MissingDir(t *testing.T) {
	found, err := plugin.Discover(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscover_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plugins")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := plugin.Discover(context.Background(), file)
	require.Error(t, err)
}
