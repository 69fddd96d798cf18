// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua loads plugins written as Lua scripts into sandboxed states.
package lua

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions are base library functions that reach the filesystem.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// hostModule is the global table scripts use to talk to the host.
const hostModule = "gatekeeper"

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	// libraries allows overriding the default safe libraries for testing.
	libraries []safeLibrary
}

// NewStateFactory creates a new state factory.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		libraries: defaultSafeLibraries(),
	}
}

// NewState creates a fresh Lua state with only safe libraries loaded and
// the gatekeeper host table installed. Script execution in the returned
// state is bound to ctx: cancelling it aborts running Lua code.
func (f *StateFactory) NewState(ctx context.Context, logger *slog.Logger) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "failed to open library %s", lib.name)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	if logger == nil {
		logger = slog.Default()
	}
	L.SetGlobal(hostModule, newHostTable(L, logger))

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}

// newHostTable builds the gatekeeper.* functions:
//
//	gatekeeper.log(level, message)
//	gatekeeper.interface_version()
func newHostTable(L *lua.LState, logger *slog.Logger) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		msg := L.CheckString(2)
		switch level {
		case "debug":
			logger.Debug(msg)
		case "warn":
			logger.Warn(msg)
		case "error":
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
		return 0
	}))
	L.SetField(tbl, "interface_version", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(plugin.InterfaceVersion))
		return 1
	}))
	return tbl
}
