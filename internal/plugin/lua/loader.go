// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// Hook names a script may define.
const (
	LoadHook   = "plugin_load"
	UnloadHook = "plugin_unload"
)

// Compile-time interface check.
var _ plugin.Loader = (*Loader)(nil)

// module is the handle for a loaded script. Its state lives until unload.
type module struct {
	path  string
	state *lua.LState
	mu    sync.Mutex
}

// Loader runs Lua plugin scripts.
//
// Loading executes the script in a fresh sandboxed state, then calls its
// plugin_load hook if defined. Unloading calls plugin_unload if defined and
// closes the state. A hook that raises an error or returns false fails the
// operation.
type Loader struct {
	factory *StateFactory
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
}

// NewLoader creates a Lua loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		factory: NewStateFactory(),
		logger:  logger,
	}
}

// Load implements plugin.Loader.
func (l *Loader) Load(ctx context.Context, modulePath string) (plugin.Handle, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, oops.In("lua").With("module", modulePath).With("operation", "load").New("loader is closed")
	}

	code, err := os.ReadFile(filepath.Clean(modulePath))
	if err != nil {
		return nil, oops.In("lua").With("module", modulePath).With("operation", "load").Hint("failed to read script").Wrap(err)
	}

	logger := l.logger.With("module", filepath.Base(modulePath))
	L, err := l.factory.NewState(ctx, logger)
	if err != nil {
		return nil, oops.In("lua").With("module", modulePath).With("operation", "load").Hint("failed to create state").Wrap(err)
	}

	if err := L.DoString(string(code)); err != nil {
		L.Close()
		return nil, oops.In("lua").With("module", modulePath).With("operation", "load").Hint("script error").Wrap(err)
	}

	if err := callHook(L, LoadHook); err != nil {
		L.Close()
		return nil, oops.In("lua").With("module", modulePath).With("operation", "load").Wrap(err)
	}

	// The load context must not bound the state's lifetime.
	L.RemoveContext()
	return &module{path: modulePath, state: L}, nil
}

// Unload implements plugin.Loader. The state is closed even when the
// unload hook fails.
func (l *Loader) Unload(ctx context.Context, h plugin.Handle) error {
	m, ok := h.(*module)
	if !ok || m == nil {
		return oops.In("lua").With("operation", "unload").Errorf("unexpected handle type %T", h)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return oops.In("lua").With("module", m.path).With("operation", "unload").New("module already unloaded")
	}

	L := m.state
	m.state = nil
	defer L.Close()

	L.SetContext(ctx)
	if err := callHook(L, UnloadHook); err != nil {
		return oops.In("lua").With("module", m.path).With("operation", "unload").Wrap(err)
	}
	return nil
}

// Close stops the loader from loading further scripts. States of modules
// still loaded are owned by their handles and closed on Unload.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// callHook calls the named global function if the script defines one.
func callHook(L *lua.LState, name string) error {
	fn := L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return oops.With("hook", name).Wrapf(err, "%s failed", name)
	}
	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LFalse {
		return oops.With("hook", name).Errorf("%s returned false", name)
	}
	return nil
}
