// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"strings"
)

// InterfaceVersion is the host interface version plugins must be built
// against. Compared as an exact string.
const InterfaceVersion = "5:13"

// Descriptor is the metadata a plugin publishes about itself. Field order
// mirrors the plugin-supplied metadata contract and must not change.
//
// Loadable and Unloadable are independent: a plugin may be loadable only at
// startup yet unloadable at any time, or the reverse.
type Descriptor struct {
	InterfaceVersion string     `yaml:"ifvers" json:"ifvers" jsonschema:"minLength=1"`
	Name             string     `yaml:"name" json:"name" jsonschema:"minLength=1,maxLength=64,pattern=^[A-Za-z0-9][A-Za-z0-9 ._-]*$"`
	Version          string     `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Date             string     `yaml:"date,omitempty" json:"date,omitempty"`
	Author           string     `yaml:"author,omitempty" json:"author,omitempty"`
	URL              string     `yaml:"url,omitempty" json:"url,omitempty"`
	LogTag           string     `yaml:"logtag,omitempty" json:"logtag,omitempty"`
	Loadable         PhaseLevel `yaml:"loadable" json:"loadable"`
	Unloadable       PhaseLevel `yaml:"unloadable" json:"unloadable"`
}

// Validate checks the descriptor against the host's interface version.
// An interface mismatch is reported before, and instead of, any other
// problem.
func (d Descriptor) Validate(hostInterfaceVersion string) error {
	if d.InterfaceVersion != hostInterfaceVersion {
		return ErrIncompatibleInterface(d.Name, d.InterfaceVersion, hostInterfaceVersion)
	}
	if strings.TrimSpace(d.Name) == "" {
		return ErrRegistration(d.Name, "name is required")
	}
	if !d.Loadable.Valid() {
		return ErrRegistration(d.Name, "loadable is not a valid phase level")
	}
	if !d.Unloadable.Valid() {
		return ErrRegistration(d.Name, "unloadable is not a valid phase level")
	}
	return nil
}

// Tag returns the log prefix, falling back to the plugin name.
func (d Descriptor) Tag() string {
	if d.LogTag != "" {
		return d.LogTag
	}
	return d.Name
}
