// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// Handle is the loader-specific token for a loaded module. The registry
// holds it between Load and Unload and never inspects it.
type Handle any

// Loader performs the mechanical loading and unloading of plugin modules.
// The registry only calls it after admission; both calls block until the
// operation has completed or failed.
type Loader interface {
	// Load loads the module at modulePath.
	Load(ctx context.Context, modulePath string) (Handle, error)

	// Unload tears down a module previously returned by Load.
	Unload(ctx context.Context, h Handle) error
}

// Router dispatches modules to loaders by file extension. Modules with an
// unrouted extension go to the fallback loader.
type Router struct {
	byExt    map[string]Loader
	fallback Loader
}

// routedHandle remembers which loader produced a handle.
type routedHandle struct {
	loader Loader
	handle Handle
}

// NewRouter creates a router. fallback may be nil, in which case modules
// with an unrouted extension fail to load.
func NewRouter(fallback Loader) *Router {
	return &Router{byExt: make(map[string]Loader), fallback: fallback}
}

// Route sends modules whose extension is ext (for example ".lua") to l.
func (r *Router) Route(ext string, l Loader) *Router {
	r.byExt[strings.ToLower(ext)] = l
	return r
}

// Load implements Loader.
func (r *Router) Load(ctx context.Context, modulePath string) (Handle, error) {
	l, ok := r.byExt[strings.ToLower(filepath.Ext(modulePath))]
	if !ok {
		l = r.fallback
	}
	if l == nil {
		return nil, oops.In("loader").With("module", modulePath).Errorf("no loader for module")
	}
	h, err := l.Load(ctx, modulePath)
	if err != nil {
		return nil, err
	}
	return routedHandle{loader: l, handle: h}, nil
}

// Unload implements Loader.
func (r *Router) Unload(ctx context.Context, h Handle) error {
	rh, ok := h.(routedHandle)
	if !ok {
		return oops.In("loader").Errorf("handle %T was not returned by this router", h)
	}
	return rh.loader.Unload(ctx, rh.handle)
}
