// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/nvimwasm/internal/abi"
	pluginlua "github.com/holomush/nvimwasm/internal/plugin/lua"
	"github.com/holomush/nvimwasm/internal/plugin/hostfunc"
	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/internal/wasm/wasmtest"
	"github.com/holomush/nvimwasm/pkg/apimodel"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

type fixture struct {
	rt     *wasm.Runtime
	bridge *pluginlua.Bridge
	dir    string
}

func newRuntime(t *testing.T) *wasm.Runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := wasm.New(context.Background(), hostfunc.NewRegistry(apimodel.New(nil, nil)), wasm.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func newFixture(t *testing.T, opts ...pluginlua.BridgeOption) *fixture {
	t.Helper()
	rt := newRuntime(t)
	b, err := pluginlua.NewBridge(context.Background(), pluginlua.NewStateFactory(), rt, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return &fixture{rt: rt, bridge: b, dir: t.TempDir()}
}

// module writes g to disk and exposes its path to scripts as the global name.
func (f *fixture) module(t *testing.T, name string, g *wasmtest.Guest) string {
	t.Helper()
	path := filepath.Join(f.dir, name+".wasm")
	require.NoError(t, os.WriteFile(path, g.Bytes(), 0o600))
	f.bridge.State().SetGlobal(name, lua.LString(path))
	return path
}

func (f *fixture) global(name string) lua.LValue {
	return f.bridge.State().GetGlobal(name)
}

func callbackGuest(t *testing.T, ref int64) *wasmtest.Guest {
	t.Helper()
	data, err := abi.EncodeValues(abi.Object{Tag: abi.TagCallback, Int: ref})
	require.NoError(t, err)
	return wasmtest.NewGuest().Callbacks().Echo("echo").Constant("make", data)
}

func TestBridge_LoadCallUnload(t *testing.T) {
	f := newFixture(t)
	f.module(t, "echo_path", wasmtest.NewGuest().Echo("echo"))

	require.NoError(t, f.bridge.DoString(`
		id, load_err = wasm.load(echo_path)
		int_result = wasm.call(id, "echo", 42)
		float_result = wasm.call(id, "echo", 2.5)
		string_result = wasm.call(id, "echo", "hi")
		array_result = wasm.call(id, "echo", {1, 2, 3})
		dict_result = wasm.call(id, "echo", {b = 1, a = "x"})
		unloaded = wasm.unload(id)
		gone, gone_err, gone_code = wasm.call(id, "echo", 1)
	`))

	assert.Equal(t, lua.LNil, f.global("load_err"))
	assert.Equal(t, lua.LNumber(42), f.global("int_result"))
	assert.Equal(t, lua.LNumber(2.5), f.global("float_result"))
	assert.Equal(t, lua.LString("hi"), f.global("string_result"))

	arr, ok := f.global("array_result").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, 3, arr.Len())
	assert.Equal(t, lua.LNumber(3), arr.RawGetInt(3))

	dict, ok := f.global("dict_result").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LString("x"), dict.RawGetString("a"))
	assert.Equal(t, lua.LNumber(1), dict.RawGetString("b"))

	assert.Equal(t, lua.LTrue, f.global("unloaded"))
	assert.Equal(t, lua.LNil, f.global("gone"))
	assert.Contains(t, f.global("gone_err").String(), "instance")
	assert.Equal(t, lua.LString(errutil.CodeInstanceNotFound), f.global("gone_code"))
}

func TestBridge_LoadErrors(t *testing.T) {
	f := newFixture(t)
	f.module(t, "guest", wasmtest.NewGuest())

	require.NoError(t, f.bridge.DoString(`
		missing, missing_err, missing_code = wasm.load("/does/not/exist.wasm")
	`))
	assert.Equal(t, lua.LNil, f.global("missing"))
	assert.Equal(t, lua.LString(errutil.CodeLoadFailed), f.global("missing_code"))

	err := f.bridge.DoString(`wasm.load(guest, {grants = {"nvim_*"}})`)
	require.Error(t, err, "grants without a plugin name are rejected")
	assert.Contains(t, err.Error(), "name is required")

	require.NoError(t, f.bridge.DoString(`
		named = wasm.load(guest, {name = "scripted", grants = {"nvim_get_*"}})
	`))
	id := int32(lua.LVAsNumber(f.global("named")))
	info, err := f.rt.Info(id)
	require.NoError(t, err)
	assert.Equal(t, "scripted", info.Plugin)
	assert.Equal(t, []string{"nvim_get_*"}, f.rt.Enforcer().Grants(info.Module))
}

func TestBridge_LuaFunctionsCannotCrossIntoGuest(t *testing.T) {
	f := newFixture(t)
	f.module(t, "echo_path", wasmtest.NewGuest().Echo("echo"))

	require.NoError(t, f.bridge.DoString(`
		id = wasm.load(echo_path)
		result, err, code = wasm.call(id, "echo", function() return 1 end)
	`))
	assert.Equal(t, lua.LNil, f.global("result"))
	assert.Equal(t, lua.LString(errutil.CodeUnsupportedType), f.global("code"))
	assert.Zero(t, f.bridge.Refs().Len(), "refs taken for a call are released afterwards")
}

func TestBridge_Callbacks(t *testing.T) {
	f := newFixture(t)
	f.module(t, "cb_path", callbackGuest(t, 7))

	require.NoError(t, f.bridge.DoString(`
		id = wasm.load(cb_path)
		cb = wasm.call(id, "make")
		owner = cb:instance()
		plain = cb:call(5)
		named = cb:call_named("on_event")
		echoed = wasm.call(id, "echo", cb)
		text = tostring(cb)
	`))
	require.Equal(t, 2, f.bridge.Live(), "the made callback and the echoed one")
	assert.Equal(t, int64(2), f.rt.Callbacks().Live())

	id := int64(lua.LVAsNumber(f.global("id")))
	assert.Equal(t, lua.LNumber(id), f.global("owner"))
	assert.Equal(t, lua.LNumber(5), f.global("plain"))
	assert.Equal(t, lua.LString("on_event"), f.global("named"))
	assert.Equal(t, lua.LString(fmt.Sprintf("callback(instance=%d ref=7)", id)), f.global("text"))

	require.NoError(t, f.bridge.DoString(`
		dropped = cb:drop()
		again = cb:drop()
		after, after_err, after_code = cb:call(1)
		after_text = tostring(cb)
		echoed:drop()
	`))
	assert.Equal(t, lua.LTrue, f.global("dropped"))
	assert.Equal(t, lua.LTrue, f.global("again"), "dropping twice is a no-op")
	assert.Equal(t, lua.LString(errutil.CodeInvalidArgument), f.global("after_code"))
	assert.Equal(t, lua.LString("callback(dropped)"), f.global("after_text"))
	assert.Zero(t, f.bridge.Live())
	assert.Zero(t, f.rt.Callbacks().Live())
}

func TestBridge_CloseDropsCallbacks(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	b, err := pluginlua.NewBridge(ctx, pluginlua.NewStateFactory(), rt)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cb.wasm")
	require.NoError(t, os.WriteFile(path, callbackGuest(t, 3).Bytes(), 0o600))
	b.State().SetGlobal("cb_path", lua.LString(path))

	require.NoError(t, b.DoString(`
		id = wasm.load(cb_path)
		kept = wasm.call(id, "make")
	`))
	require.Equal(t, 1, b.Live())
	require.Equal(t, int64(1), rt.Callbacks().Live())

	require.NoError(t, b.Close(ctx))
	assert.Zero(t, b.Live())
	assert.Zero(t, rt.Callbacks().Live())
}

func TestBridge_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t, pluginlua.WithBridgeLogger(logger))

	require.NoError(t, f.bridge.DoString(`
		wasm.log("warn", "careful")
		wasm.log("whatever", "plain")
	`))
	out := buf.String()
	assert.Contains(t, out, "level=WARN msg=careful")
	assert.Contains(t, out, "level=INFO msg=plain")
}

func TestBridge_DoFile(t *testing.T) {
	f := newFixture(t)
	script := filepath.Join(f.dir, "script.lua")
	require.NoError(t, os.WriteFile(script, []byte(`answer = 6 * 7`), 0o600))

	require.NoError(t, f.bridge.DoFile(script))
	assert.Equal(t, lua.LNumber(42), f.global("answer"))

	err := f.bridge.DoFile(filepath.Join(f.dir, "missing.lua"))
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "script", filepath.Join(f.dir, "missing.lua"))
}

func TestBridge_InstanceIDOutOfRange(t *testing.T) {
	f := newFixture(t)
	id, err := f.rt.Load(context.Background(), f.module(t, "echo_path", wasmtest.NewGuest().Echo("echo")))
	require.NoError(t, err)
	require.Equal(t, int32(0), id)

	require.NoError(t, f.bridge.DoString(`
		wrapped, wrapped_err, wrapped_code = wasm.call(4294967296, "echo", 1)
		negative, _, negative_code = wasm.call(-1, "echo", 1)
		fraction, _, fraction_code = wasm.call(0.5, "echo", 1)
		unloaded, _, unload_code = wasm.unload(4294967296)
	`))

	assert.Equal(t, lua.LNil, f.global("wrapped"), "must not reach instance 0")
	assert.Contains(t, f.global("wrapped_err").String(), "instance id must be an integer")
	assert.Equal(t, lua.LString(errutil.CodeInvalidArgument), f.global("wrapped_code"))
	assert.Equal(t, lua.LNil, f.global("negative"))
	assert.Equal(t, lua.LString(errutil.CodeInvalidArgument), f.global("negative_code"))
	assert.Equal(t, lua.LNil, f.global("fraction"))
	assert.Equal(t, lua.LString(errutil.CodeInvalidArgument), f.global("fraction_code"))
	assert.Equal(t, lua.LNil, f.global("unloaded"))
	assert.Equal(t, lua.LString(errutil.CodeInvalidArgument), f.global("unload_code"))

	_, err = f.rt.CallFunction(context.Background(), id, "echo", nil)
	assert.NoError(t, err, "instance 0 is still loaded")
}

func TestBridge_ScriptErrors(t *testing.T) {
	f := newFixture(t)

	err := f.bridge.DoString(`wasm.call("not a number", "echo")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script failed")
}
