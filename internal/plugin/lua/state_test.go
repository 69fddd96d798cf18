// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	glua "github.com/yuin/gopher-lua"

	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/internal/plugin/lua"
)

func newTestState(t *testing.T, ctx context.Context, logger *slog.Logger) *glua.LState {
	t.Helper()
	L, err := lua.NewStateFactory().NewState(ctx, logger)
	require.NoError(t, err)
	t.Cleanup(L.Close)
	return L
}

func TestNewState_Sandbox(t *testing.T) {
	L := newTestState(t, context.Background(), nil)

	for _, name := range []string{"os", "io", "debug", "package", "dofile", "loadfile", "loadstring", "load"} {
		assert.Equal(t, glua.LNil, L.GetGlobal(name), "%s must not be reachable", name)
	}
	for _, name := range []string{"string", "table", "math", "pairs", "tostring"} {
		assert.NotEqual(t, glua.LNil, L.GetGlobal(name), "%s must be available", name)
	}

	require.NoError(t, L.DoString(`result = string.upper("ok") .. math.floor(2.5)`))
	assert.Equal(t, "OK2", L.GetGlobal("result").String())
}

func TestNewState_HostTable(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	L := newTestState(t, context.Background(), logger)

	require.NoError(t, L.DoString(`
		gatekeeper.log("warn", "careful")
		gatekeeper.log("debug", "details")
		gatekeeper.log("whatever", "fallback")
		ifvers = gatekeeper.interface_version()
	`))

	out := buf.String()
	assert.Contains(t, out, "level=WARN msg=careful")
	assert.Contains(t, out, "level=DEBUG msg=details")
	assert.Contains(t, out, "level=INFO msg=fallback")
	assert.Equal(t, plugin.InterfaceVersion, L.GetGlobal("ifvers").String())
}

func TestNewState_LogRequiresArguments(t *testing.T) {
	L := newTestState(t, context.Background(), nil)
	require.Error(t, L.DoString(`gatekeeper.log("info")`))
}

func TestNewState_ContextAbortsScript(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	L := newTestState(t, ctx, nil)

	err := L.DoString(`while true do end`)
	require.Error(t, err)
}
