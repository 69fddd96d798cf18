// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"path/filepath"
	"regexp"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Type identifies the module runtime.
type Type string

// Plugin types supported by the loaders.
const (
	TypeLua    Type = "lua"
	TypeBinary Type = "binary"
)

// ManifestFile is the file name looked up in each plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file: the descriptor plus how to find
// the module that implements it.
type Manifest struct {
	Descriptor   `yaml:",inline"`
	Type         Type          `yaml:"type" json:"type" jsonschema:"enum=lua,enum=binary"`
	LuaPlugin    *LuaConfig    `yaml:"lua-plugin,omitempty" json:"lua-plugin,omitempty"`
	BinaryPlugin *BinaryConfig `yaml:"binary-plugin,omitempty" json:"binary-plugin,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry" jsonschema:"minLength=1"`
}

// BinaryConfig holds binary plugin configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable" json:"executable" jsonschema:"minLength=1"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: an alphanumeric first character,
// then letters, digits, spaces, dots, underscores or hyphens.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code(CodeInvalidManifest).Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeInvalidManifest).Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints. The interface version is not
// checked here; that is the registry's job at registration time.
func (m *Manifest) Validate() error {
	invalid := oops.Code(CodeInvalidManifest).With("plugin", m.Name)

	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return invalid.Errorf("name %q must start with a letter or digit and contain only letters, digits, spaces, '.', '_' or '-'", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return invalid.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}
	if m.InterfaceVersion == "" {
		return invalid.Errorf("ifvers is required")
	}
	if m.Version == "" {
		return invalid.Errorf("version is required")
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			return invalid.Errorf("lua-plugin is required when type is lua")
		}
		if m.LuaPlugin.Entry == "" {
			return invalid.Errorf("lua-plugin.entry is required")
		}
	case TypeBinary:
		if m.BinaryPlugin == nil {
			return invalid.Errorf("binary-plugin is required when type is binary")
		}
		if m.BinaryPlugin.Executable == "" {
			return invalid.Errorf("binary-plugin.executable is required")
		}
	default:
		return invalid.Errorf("type must be 'lua' or 'binary', got %q", m.Type)
	}

	return nil
}

// ModulePath returns the path of the module file inside dir.
func (m *Manifest) ModulePath(dir string) string {
	switch m.Type {
	case TypeLua:
		return filepath.Join(dir, m.LuaPlugin.Entry)
	case TypeBinary:
		return filepath.Join(dir, m.BinaryPlugin.Executable)
	default:
		return ""
	}
}
