// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Error codes for lifecycle failures.
const (
	CodeIncompatibleInterface = "INCOMPATIBLE_INTERFACE"
	CodeNotYetLoadable        = "NOT_YET_LOADABLE"
	CodeLifecycleForbidden    = "LIFECYCLE_FORBIDDEN"
	CodeLoadFailed            = "LOAD_FAILED"
	CodeUnloadFailed          = "UNLOAD_FAILED"
	CodeRegistration          = "REGISTRATION_ERROR"
	CodeNotFound              = "PLUGIN_NOT_FOUND"
	CodeInvalidState          = "INVALID_STATE"
	CodeInvalidCause          = "INVALID_CAUSE"
	CodeInvalidPhase          = "INVALID_PHASE"
	CodeInvalidManifest       = "INVALID_MANIFEST"
)

// ErrIncompatibleInterface creates an error for a plugin built against a
// different host interface version.
func ErrIncompatibleInterface(name, got, want string) error {
	return oops.Code(CodeIncompatibleInterface).
		With("plugin", name).
		With("interface_version", got).
		With("host_interface_version", want).
		Errorf("plugin %q uses interface version %q, host requires %q", name, got, want)
}

// ErrNotYetLoadable creates an error for a load requested before the
// plugin's declared load phase.
func ErrNotYetLoadable(name string, loadable, phase PhaseLevel) error {
	return oops.Code(CodeNotYetLoadable).
		With("plugin", name).
		With("loadable", loadable.String()).
		With("phase", phase.String()).
		Errorf("plugin %q is loadable from %s, host is in %s", name, loadable, phase)
}

// ErrLifecycleForbidden creates an error for an unload against a plugin that
// declared itself never unloadable.
func ErrLifecycleForbidden(name string, cause UnloadCause) error {
	return oops.Code(CodeLifecycleForbidden).
		With("plugin", name).
		With("cause", cause.String()).
		Errorf("plugin %q cannot be unloaded at runtime", name)
}

// ErrLoadFailed wraps a loader failure during load.
func ErrLoadFailed(name string, cause error) error {
	return oops.Code(CodeLoadFailed).
		With("plugin", name).
		Wrapf(cause, "load plugin %q", name)
}

// ErrUnloadFailed wraps a loader failure during unload.
func ErrUnloadFailed(name string, cause error) error {
	return oops.Code(CodeUnloadFailed).
		With("plugin", name).
		Wrapf(cause, "unload plugin %q", name)
}

// ErrRegistration creates a registration error (duplicate or malformed).
func ErrRegistration(name, reason string) error {
	return oops.Code(CodeRegistration).
		With("plugin", name).
		With("reason", reason).
		Errorf("cannot register plugin %q: %s", name, reason)
}

// ErrNotFound creates an error for an unknown plugin ID or name.
func ErrNotFound(ref string) error {
	return oops.Code(CodeNotFound).
		With("plugin", ref).
		Errorf("plugin %q not found", ref)
}

// ErrInvalidState creates an error for a transition not allowed from the
// record's current status.
func ErrInvalidState(name, operation string, status RuntimeStatus) error {
	return oops.Code(CodeInvalidState).
		With("plugin", name).
		With("operation", operation).
		With("status", status.String()).
		Errorf("cannot %s plugin %q while %s", operation, name, status)
}

// ErrRegistryClosed creates an error for a request made after the registry
// was closed.
func ErrRegistryClosed(name, operation string) error {
	return oops.Code(CodeInvalidState).
		With("plugin", name).
		With("operation", operation).
		Errorf("cannot %s plugin %q: registry is closed", operation, name)
}

// ErrInvalidCause creates an error for an unload cause that cannot start a
// request.
func ErrInvalidCause(name string, cause UnloadCause) error {
	return oops.Code(CodeInvalidCause).
		With("plugin", name).
		With("cause", cause.String()).
		Errorf("unload cause %s cannot be used to request an unload", cause)
}

// ErrorCode returns the oops code of err, or "" for other errors.
func ErrorCode(err error) string {
	return errutil.Code(err)
}
