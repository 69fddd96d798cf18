// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"

	"github.com/holomush/gatekeeper/pkg/pluginsdk"
)

// HandshakeConfig is imported from pluginsdk to ensure host and plugins
// use identical configuration. Do not define locally to prevent drift.
var HandshakeConfig = pluginsdk.HandshakeConfig

// PluginMap is the map of plugins we can dispense.
var PluginMap = pluginsdk.PluginMap

// HealthChecker is what the host dispenses from a plugin process.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Compile-time interface check.
var _ HealthChecker = (*pluginsdk.HealthProbe)(nil)
