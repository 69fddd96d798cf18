// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// validateConfig holds configuration for the validate command.
type validateConfig struct {
	interfaceVersion string
}

// newValidateCmd creates the validate subcommand.
func newValidateCmd() *cobra.Command {
	cfg := &validateConfig{}

	cmd := &cobra.Command{
		Use:   "validate <plugin.yaml>...",
		Short: "Validate plugin manifests",
		Long: `Validate plugin manifests against the manifest schema and check that
each declares the host's plugin interface version. Plugin directories may be
given in place of their plugin.yaml.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, cfg, args)
		},
	}

	cmd.Flags().StringVar(&cfg.interfaceVersion, "interface-version", plugin.InterfaceVersion,
		"plugin interface version manifests must declare")

	return cmd
}

// runValidate checks every manifest and reports each result. It fails if
// any manifest is invalid.
func runValidate(cmd *cobra.Command, cfg *validateConfig, paths []string) error {
	failed := 0
	for _, path := range paths {
		m, err := validateManifest(path, cfg.interfaceVersion)
		if err != nil {
			failed++
			cmd.Printf("FAIL %s: %s\n", path, describeValidationError(err))
			continue
		}
		cmd.Printf("ok   %s: %s %s (%s, load %s, unload %s)\n",
			path, m.Name, m.Version, m.Type, m.Loadable, m.Unloadable)
		if _, err := os.Stat(m.ModulePath(filepath.Dir(manifestPath(path)))); err != nil {
			cmd.Printf("     warning: module file: %v\n", err)
		}
	}
	if failed > 0 {
		return oops.Code(plugin.CodeInvalidManifest).
			With("failed", failed).
			Errorf("%d of %d manifests invalid", failed, len(paths))
	}
	return nil
}

// validateManifest runs the schema, manifest and descriptor checks in turn.
func validateManifest(path, interfaceVersion string) (*plugin.Manifest, error) {
	data, err := os.ReadFile(manifestPath(path)) //nolint:gosec // path is an operator-supplied CLI argument
	if err != nil {
		return nil, oops.In("validate").With("path", path).Wrapf(err, "read manifest")
	}
	if err := plugin.ValidateSchema(data); err != nil {
		return nil, err
	}
	m, err := plugin.ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if err := m.Descriptor.Validate(interfaceVersion); err != nil {
		return nil, err
	}
	return m, nil
}

// manifestPath maps a plugin directory to its manifest file.
func manifestPath(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, plugin.ManifestFile)
	}
	return path
}

func describeValidationError(err error) string {
	if code := plugin.ErrorCode(err); code != "" {
		return fmt.Sprintf("%s [%s]", plugin.FormatSchemaError(err), code)
	}
	return plugin.FormatSchemaError(err)
}
