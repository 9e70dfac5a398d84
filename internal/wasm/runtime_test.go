// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/nvimwasm/internal/abi"
	"github.com/holomush/nvimwasm/internal/decl"
	"github.com/holomush/nvimwasm/internal/observability"
	"github.com/holomush/nvimwasm/internal/plugin/hostfunc"
	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/internal/wasm/wasmtest"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

const testFuncs = `
Object nvim_get_var(String name, Error *err) FUNC_API_SINCE(1);
void nvim_set_var(String name, Object value, Error *err) FUNC_API_SINCE(1);
Object nvim_exec_callback(Object cb, Array args, Error *err) FUNC_API_SINCE(13);
Integer nvim_wasm_load(String file, Error *error) FUNC_API_SINCE(13);
Object nvim_wasm_call_func(Integer instance_id, String func_name, Array args, Error *error) FUNC_API_SINCE(13);
`

type harness struct {
	rt   *wasm.Runtime
	host *hostfunc.Registry
	vars *hostfunc.MemoryVars
	dir  string
}

func newHarness(t *testing.T, opts ...wasm.Option) *harness {
	t.Helper()
	api, _, err := decl.ParseAPI("", []decl.Source{{Name: "test.h", Text: testFuncs}}, decl.Strict())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	host := hostfunc.NewRegistry(api)
	vars := hostfunc.NewMemoryVars()
	require.NoError(t, hostfunc.NewStandard(vars, logger).Register(host))

	opts = append([]wasm.Option{wasm.WithLogger(logger)}, opts...)
	rt, err := wasm.New(context.Background(), host, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	return &harness{rt: rt, host: host, vars: vars, dir: t.TempDir()}
}

func (h *harness) write(t *testing.T, name string, bin []byte) string {
	t.Helper()
	path := filepath.Join(h.dir, name+".wasm")
	require.NoError(t, os.WriteFile(path, bin, 0o600))
	return path
}

func (h *harness) load(t *testing.T, name string, g *wasmtest.Guest, opts ...wasm.LoadOption) int32 {
	t.Helper()
	id, err := h.rt.Load(context.Background(), h.write(t, name, g.Bytes()), opts...)
	require.NoError(t, err)
	return id
}

func (h *harness) global(t *testing.T, id int32, name string) uint64 {
	t.Helper()
	v, ok := h.rt.Global(id, name)
	require.True(t, ok, "global %s of instance %d", name, id)
	return v
}

func mustEncode(t *testing.T, values ...abi.Object) []byte {
	t.Helper()
	data, err := abi.EncodeValues(values...)
	require.NoError(t, err)
	return data
}

func TestLoad_AssignsDistinctIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ids := make(map[int32]bool)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		id := h.load(t, name, wasmtest.NewGuest().Echo("echo"))
		assert.False(t, ids[id], "id %d handed out twice", id)
		ids[id] = true
	}

	infos := h.rt.Instances()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha#0", infos[0].Module)
	assert.Equal(t, "beta", infos[1].Plugin)
	assert.NotEmpty(t, infos[2].LoadID)
	assert.Contains(t, infos[0].Exports, "echo")

	require.NoError(t, h.rt.Unload(ctx, 1))
	errutil.AssertErrorCode(t, h.rt.Unload(ctx, 1), errutil.CodeInstanceNotFound)

	id := h.load(t, "delta", wasmtest.NewGuest().Echo("echo"))
	assert.Equal(t, int32(1), id, "released ids are reused")
}

func TestLoad_CapacityExceeded(t *testing.T) {
	h := newHarness(t, wasm.WithMaxInstances(2))
	ctx := context.Background()

	first := h.load(t, "one", wasmtest.NewGuest().Echo("echo"))
	h.load(t, "two", wasmtest.NewGuest().Echo("echo"))

	_, err := h.rt.Load(ctx, h.write(t, "three", wasmtest.NewGuest().Bytes()))
	errutil.AssertErrorCode(t, err, errutil.CodeCapacityExceeded)

	got, err := h.rt.CallFunction(ctx, first, "echo", []object.Object{object.Integer(1)})
	require.NoError(t, err)
	assert.Equal(t, object.Integer(1), got)
}

func TestLoad_Failures(t *testing.T) {
	noAlloc := &wasmtest.Module{}
	noAlloc.Memory(1)
	noAlloc.Export("memory", wasmtest.ExportMemory, 0)

	badAlloc := &wasmtest.Module{}
	badAlloc.Memory(1)
	badAlloc.Export("memory", wasmtest.ExportMemory, 0)
	badAlloc.Export("allocate", wasmtest.ExportFunc,
		badAlloc.Func(wasmtest.Sig(nil, wasmtest.I32), nil, wasmtest.I32Const(0)))

	noMemory := &wasmtest.Module{}
	noMemory.Export("allocate", wasmtest.ExportFunc,
		noMemory.Func(wasmtest.Sig([]wasmtest.ValType{wasmtest.I32}, wasmtest.I32), nil, wasmtest.LocalGet(0)))

	tests := []struct {
		name string
		bin  []byte
	}{
		{"not wasm", []byte("definitely not a module")},
		{"no allocate", noAlloc.Bytes()},
		{"allocate signature", badAlloc.Bytes()},
		{"no memory", noMemory.Bytes()},
		{"unknown import", wasmtest.NewGuest("nvim-does-not-exist").Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.rt.Load(context.Background(), h.write(t, "bad", tt.bin))
			errutil.AssertErrorCode(t, err, errutil.CodeLoadFailed)

			id := h.load(t, "good", wasmtest.NewGuest())
			assert.Equal(t, int32(0), id, "a failed load does not consume an id")
		})
	}

	t.Run("missing file", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.rt.Load(context.Background(), filepath.Join(h.dir, "absent.wasm"))
		errutil.AssertErrorCode(t, err, errutil.CodeLoadFailed)
		errutil.AssertErrorContext(t, err, "path", filepath.Join(h.dir, "absent.wasm"))
	})

	t.Run("memory limit", func(t *testing.T) {
		h := newHarness(t, wasm.WithMemoryLimitPages(2))
		_, err := h.rt.Load(context.Background(), h.write(t, "big", wasmtest.NewGuestPages(4).Bytes()))
		errutil.AssertErrorCode(t, err, errutil.CodeLoadFailed)
	})

	t.Run("bad grant pattern", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.rt.Load(context.Background(), h.write(t, "p", wasmtest.NewGuest().Bytes()),
			wasm.AsPlugin("p", []string{"nvim_[get"}))
		errutil.AssertErrorCode(t, err, errutil.CodeInvalidArgument)
	})
}

func TestLoad_RunsInitialize(t *testing.T) {
	h := newHarness(t)
	id := h.load(t, "init", wasmtest.NewGuest().Initialize())
	assert.Equal(t, uint64(1), h.global(t, id, wasmtest.GlobalInitialized))

	plain := h.load(t, "plain", wasmtest.NewGuest())
	assert.Equal(t, uint64(0), h.global(t, plain, wasmtest.GlobalInitialized))
}

func TestCallFunction_RoundTrip(t *testing.T) {
	h := newHarness(t)
	id := h.load(t, "echo", wasmtest.NewGuest().Echo("echo").PostReturn("echo"))
	ctx := context.Background()

	values := []object.Object{
		object.Nil{},
		object.Boolean(true),
		object.Integer(-42),
		object.Float(2.5),
		object.String("with\x00nul"),
		object.Buffer(3),
		object.Array{object.Integer(1), object.String("two")},
		object.Dictionary{{Key: "k", Value: object.Window(1000)}},
	}
	for _, v := range values {
		got, err := h.rt.CallFunction(ctx, id, "echo", []object.Object{v})
		require.NoError(t, err, "echo %v", v)
		assert.True(t, object.Equal(v, got), "want %#v, got %#v", v, got)
	}
	assert.Equal(t, uint64(len(values)), h.global(t, id, wasmtest.GlobalPostCalls))

	got, err := h.rt.CallFunction(ctx, id, "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, object.Nil{}, got, "an empty result is Nil")
}

func TestCallFunction_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := wasmtest.NewGuest().
		Echo("echo").
		Trap("boom").PostReturn("boom").
		Constant("fail", func() []byte {
			data, err := abi.EncodeError("guest says no")
			require.NoError(t, err)
			return data
		}()).
		Constant("garbage", []byte{0xff, 0x00}).PostReturn("garbage").
		Constant("pair", mustEncode(t, abi.Object{Tag: abi.TagInt, Int: 1}, abi.Object{Tag: abi.TagInt, Int: 2}))
	m := g.Module()
	m.Export("add", wasmtest.ExportFunc,
		m.Func(wasmtest.Sig([]wasmtest.ValType{wasmtest.I32, wasmtest.I32}, wasmtest.I32), nil, wasmtest.LocalGet(0)))
	id := h.load(t, "errs", g)

	tests := []struct {
		name string
		fn   string
		args []object.Object
		code string
	}{
		{"missing export", "nope", nil, errutil.CodeExportNotFound},
		{"wrong signature", "add", nil, errutil.CodeSignatureMismatch},
		{"trap", "boom", nil, errutil.CodeTrap},
		{"guest error", "fail", nil, errutil.CodeGuestError},
		{"undecodable result", "garbage", nil, errutil.CodeInvalidEncoding},
		{"too many results", "pair", nil, errutil.CodeInvalidEncoding},
		{"nested container", "echo", []object.Object{object.Array{object.Array{}}}, errutil.CodeNonPrimitive},
		{"lua reference", "echo", []object.Object{object.LuaRef(1)}, errutil.CodeUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.rt.CallFunction(ctx, id, tt.fn, tt.args)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}

	_, err := h.rt.CallFunction(ctx, 99, "echo", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeInstanceNotFound)

	_, err = h.rt.CallFunction(ctx, id, "fail", nil)
	assert.Contains(t, err.Error(), "guest says no")

	assert.Equal(t, uint64(1), h.global(t, id, wasmtest.GlobalPostCalls),
		"post-return runs for an undecodable result but not after a trap")

	got, err := h.rt.CallFunction(ctx, id, "echo", []object.Object{object.String("still alive")})
	require.NoError(t, err, "a trap does not unload the instance")
	assert.Equal(t, object.String("still alive"), got)
}

func TestCallFunction_TrapSkipsPostReturn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.load(t, "trap", wasmtest.NewGuest().
		Trap("boom").PostReturn("boom").
		Echo("echo").PostReturn("echo"))

	for i := 0; i < 2; i++ {
		_, err := h.rt.CallFunction(ctx, id, "boom", []object.Object{object.Integer(1)})
		errutil.AssertErrorCode(t, err, errutil.CodeTrap)
	}
	assert.Zero(t, h.global(t, id, wasmtest.GlobalPostCalls))

	_, err := h.rt.CallFunction(ctx, id, "echo", []object.Object{object.Integer(1)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.global(t, id, wasmtest.GlobalPostCalls))
}

func TestCallFunction_Timeout(t *testing.T) {
	h := newHarness(t, wasm.WithCallTimeout(50*time.Millisecond))
	ctx := context.Background()
	id := h.load(t, "spin", wasmtest.NewGuest().Spin("spin").Echo("echo"))

	start := time.Now()
	_, err := h.rt.CallFunction(ctx, id, "spin", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeCallTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Empty(t, h.rt.Instances(), "an interrupted instance is evicted")
	_, err = h.rt.CallFunction(ctx, id, "echo", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeInstanceNotFound)

	again := h.load(t, "fresh", wasmtest.NewGuest().Echo("echo"))
	assert.Equal(t, id, again)
}

func TestCallFunction_CanceledContext(t *testing.T) {
	h := newHarness(t)
	id := h.load(t, "spin", wasmtest.NewGuest().Spin("spin"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.rt.CallFunction(ctx, id, "spin", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeCallTimeout)
}

func TestHostCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.load(t, "vars", wasmtest.NewGuest("nvim-get-var", "nvim-set-var").
		Forward("get", "nvim-get-var").
		Forward("set", "nvim-set-var"))

	_, err := h.rt.CallFunction(ctx, id, "set", []object.Object{object.String("greeting"), object.String("hello")})
	require.NoError(t, err)

	got, err := h.rt.CallFunction(ctx, id, "get", []object.Object{object.String("greeting")})
	require.NoError(t, err)
	assert.Equal(t, object.String("hello"), got)

	stored, ok, err := h.vars.Get(ctx, hostfunc.GlobalScope, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, object.String("hello"), stored)

	_, err = h.rt.CallFunction(ctx, id, "get", []object.Object{object.String("missing")})
	errutil.AssertErrorCode(t, err, errutil.CodeGuestError)
	assert.Contains(t, err.Error(), "Key not found: missing")

	_, err = h.rt.CallFunction(ctx, id, "get", []object.Object{object.Integer(1)})
	errutil.AssertErrorCode(t, err, errutil.CodeGuestError)
}

func TestHostCalls_CapabilityDenied(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, wasm.WithMetrics(metrics))
	ctx := context.Background()

	g := wasmtest.NewGuest("nvim-get-var", "nvim-set-var").
		Forward("get", "nvim-get-var").
		Forward("set", "nvim-set-var")
	id := h.load(t, "restricted", g, wasm.AsPlugin("restricted", []string{"nvim_set_*"}))

	_, err := h.rt.CallFunction(ctx, id, "set", []object.Object{object.String("k"), object.Integer(1)})
	require.NoError(t, err)

	_, err = h.rt.CallFunction(ctx, id, "get", []object.Object{object.String("k")})
	errutil.AssertErrorCode(t, err, errutil.CodeGuestError)
	assert.Contains(t, err.Error(), "nvim_get_var")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CapabilityDenials.WithLabelValues("nvim_get_var")), 0)
}

func TestNestedCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	caller := h.load(t, "caller", wasmtest.NewGuest("nvim-wasm-call-func", "nvim-wasm-load").
		Forward("call", "nvim-wasm-call-func").
		Forward("load", "nvim-wasm-load").
		Echo("echo"),
		wasm.AsPlugin("caller", []string{"nvim_wasm_**"}))
	callee := h.load(t, "callee", wasmtest.NewGuest().Echo("echo"))

	got, err := h.rt.CallFunction(ctx, caller, "call", []object.Object{
		object.Integer(callee), object.String("echo"), object.Array{object.String("through")},
	})
	require.NoError(t, err)
	assert.Equal(t, object.String("through"), got)

	got, err = h.rt.CallFunction(ctx, caller, "call", []object.Object{
		object.Integer(caller), object.String("echo"), object.Array{object.Integer(7)},
	})
	require.NoError(t, err, "an instance can re-enter itself")
	assert.Equal(t, object.Integer(7), got)

	_, err = h.rt.CallFunction(ctx, caller, "call", []object.Object{
		object.Integer(callee), object.String("missing"), object.Array{},
	})
	errutil.AssertErrorCode(t, err, errutil.CodeGuestError)

	path := h.write(t, "child", wasmtest.NewGuest().Echo("echo").Bytes())
	got, err = h.rt.CallFunction(ctx, caller, "load", []object.Object{object.String(path)})
	require.NoError(t, err)
	child, ok := got.(object.Integer)
	require.True(t, ok, "nvim_wasm_load returns the new id, got %#v", got)

	var info wasm.InstanceInfo
	for _, i := range h.rt.Instances() {
		if i.ID == int32(child) {
			info = i
		}
	}
	assert.Equal(t, "child", info.Plugin)
	assert.Equal(t, []string{"nvim_wasm_**"}, h.rt.Enforcer().Grants(info.Module),
		"modules loaded by a plugin inherit its grants")
}

func TestNestedCalls_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.load(t, "a", wasmtest.NewGuest("nvim-wasm-call-func").Forward("call", "nvim-wasm-call-func"))
	b := h.load(t, "b", wasmtest.NewGuest().Echo("echo"))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := h.rt.CallFunction(ctx, a, "call", []object.Object{
				object.Integer(b), object.String("echo"), object.Array{object.Integer(i)},
			})
			if err == nil && !object.Equal(got, object.Integer(i)) {
				err = assert.AnError
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCallbacks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cbRef := abi.Object{Tag: abi.TagCallback, Int: 7}
	owner := h.load(t, "owner", wasmtest.NewGuest().
		Callbacks().
		Echo("echo").
		Constant("make", mustEncode(t, cbRef)))
	other := h.load(t, "other", wasmtest.NewGuest().Callbacks().Echo("echo"))

	got, err := h.rt.CallFunction(ctx, owner, "make", nil)
	require.NoError(t, err)
	cb, ok := got.(object.Callback)
	require.True(t, ok, "got %#v", got)
	require.False(t, cb.Handle.IsAbsent())
	assert.Equal(t, owner, cb.Handle.InstanceID())
	assert.Equal(t, uint32(7), cb.Handle.Ref())
	assert.Equal(t, int64(1), h.rt.Callbacks().Count(cb.Handle))

	res, err := h.rt.CallCallback(ctx, cb.Handle, []object.Object{object.Integer(5)})
	require.NoError(t, err)
	assert.Equal(t, object.Integer(5), res)
	assert.Equal(t, uint64(7), h.global(t, owner, wasmtest.GlobalLastRef))

	res, err = h.rt.CallCallbackNamed(ctx, cb.Handle, "on_event", nil)
	require.NoError(t, err)
	assert.Equal(t, object.String("on_event"), res)

	t.Run("same instance keeps the reference", func(t *testing.T) {
		back, err := h.rt.CallFunction(ctx, owner, "echo", []object.Object{cb})
		require.NoError(t, err)
		echoed := back.(object.Callback)
		assert.Equal(t, uint32(7), echoed.Handle.Ref())
		assert.False(t, echoed.Handle.Equal(cb.Handle), "each crossing mints a new handle")
		require.NoError(t, h.rt.DropCallback(ctx, echoed.Handle))
	})

	t.Run("other instance sees the absent callback", func(t *testing.T) {
		back, err := h.rt.CallFunction(ctx, other, "echo", []object.Object{cb})
		require.NoError(t, err)
		assert.True(t, back.(object.Callback).Handle.IsAbsent())
	})

	_, err = h.rt.CallCallback(ctx, nil, nil)
	errutil.AssertErrorCode(t, err, errutil.CodeInvalidArgument)

	drops := h.global(t, owner, wasmtest.GlobalDrops)
	clone := cb.Handle.Clone()
	require.NoError(t, h.rt.DropCallback(ctx, clone))
	assert.Equal(t, drops, h.global(t, owner, wasmtest.GlobalDrops), "a live clone keeps the guest reference")

	require.NoError(t, h.rt.DropCallback(ctx, cb.Handle))
	assert.Equal(t, drops+1, h.global(t, owner, wasmtest.GlobalDrops))
	assert.Equal(t, uint64(7), h.global(t, owner, wasmtest.GlobalDroppedRef))

	require.NoError(t, h.rt.DropCallback(ctx, cb.Handle))
	assert.Equal(t, drops+1, h.global(t, owner, wasmtest.GlobalDrops), "dropping twice notifies once")
}

func TestCallbacks_FromHostFunction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.host.MustRegister("nvim_exec_callback", func(ctx context.Context, call *hostfunc.Call) (object.Object, error) {
		cb, ok := call.Arg(0).(object.Callback)
		require.True(t, ok)
		args, _ := call.Arg(1).(object.Array)
		return h.rt.CallCallback(ctx, cb.Handle, args)
	})

	id := h.load(t, "cb", wasmtest.NewGuest("nvim-exec-callback").
		Callbacks().
		Forward("exec", "nvim-exec-callback").
		Constant("make", mustEncode(t, abi.Object{Tag: abi.TagCallback, Int: 9})))

	got, err := h.rt.CallFunction(ctx, id, "make", nil)
	require.NoError(t, err)
	cb := got.(object.Callback)
	defer func() { _ = h.rt.DropCallback(ctx, cb.Handle) }()

	res, err := h.rt.CallFunction(ctx, id, "exec", []object.Object{cb, object.Array{object.Integer(42)}})
	require.NoError(t, err, "a host function can call back into the guest that called it")
	assert.Equal(t, object.Integer(42), res)
	assert.Equal(t, uint64(9), h.global(t, id, wasmtest.GlobalLastRef))
	assert.Equal(t, uint64(1), h.global(t, id, wasmtest.GlobalDrops), "the host's borrowed copy is released after the call")
}

func TestCallbacks_OwnerUnloaded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.load(t, "gone", wasmtest.NewGuest().
		Callbacks().
		Constant("make", mustEncode(t, abi.Object{Tag: abi.TagCallback, Int: 3})))

	got, err := h.rt.CallFunction(ctx, id, "make", nil)
	require.NoError(t, err)
	cb := got.(object.Callback)

	require.NoError(t, h.rt.Unload(ctx, id))

	_, err = h.rt.CallCallback(ctx, cb.Handle, nil)
	errutil.AssertErrorCode(t, err, errutil.CodeInstanceNotFound)
	assert.NoError(t, h.rt.DropCallback(ctx, cb.Handle))
	assert.Equal(t, int64(0), h.rt.Callbacks().Live())
}

func TestCallbacks_OwnerIDReused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.load(t, "first", wasmtest.NewGuest().
		Callbacks().
		Constant("make", mustEncode(t, abi.Object{Tag: abi.TagCallback, Int: 7})))

	got, err := h.rt.CallFunction(ctx, first, "make", nil)
	require.NoError(t, err)
	stale := got.(object.Callback)

	require.NoError(t, h.rt.Unload(ctx, first))
	second := h.load(t, "second", wasmtest.NewGuest().Callbacks().Echo("echo"))
	require.Equal(t, first, second, "the freed id is reused")
	assert.True(t, stale.Handle.Orphaned())

	_, err = h.rt.CallCallback(ctx, stale.Handle, nil)
	errutil.AssertErrorCode(t, err, errutil.CodeInstanceNotFound)
	assert.Zero(t, h.global(t, second, wasmtest.GlobalLastRef), "the new instance is never called")

	back, err := h.rt.CallFunction(ctx, second, "echo", []object.Object{stale})
	require.NoError(t, err)
	assert.True(t, back.(object.Callback).Handle.IsAbsent())

	require.NoError(t, h.rt.DropCallback(ctx, stale.Handle))
	assert.Zero(t, h.global(t, second, wasmtest.GlobalDrops), "the new instance is not told about refs it never issued")
	assert.Equal(t, int64(0), h.rt.Callbacks().Live())
}

func TestCallbacks_MissingExports(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.load(t, "plain", wasmtest.NewGuest().
		Constant("make", mustEncode(t, abi.Object{Tag: abi.TagCallback, Int: 1})))

	got, err := h.rt.CallFunction(ctx, id, "make", nil)
	require.NoError(t, err)
	cb := got.(object.Callback)

	_, err = h.rt.CallCallback(ctx, cb.Handle, nil)
	errutil.AssertErrorCode(t, err, errutil.CodeExportNotFound)
	assert.NoError(t, h.rt.DropCallback(ctx, cb.Handle), "guests without drop-callback are not notified")
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.load(t, "x", wasmtest.NewGuest().Echo("echo"))

	require.NoError(t, h.rt.Close(ctx))
	require.NoError(t, h.rt.Close(ctx))
	assert.Empty(t, h.rt.Instances())

	_, err := h.rt.CallFunction(ctx, id, "echo", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeNotInitialized)
	_, err = h.rt.Load(ctx, h.write(t, "y", wasmtest.NewGuest().Bytes()))
	errutil.AssertErrorCode(t, err, errutil.CodeNotInitialized)
}

func TestInitialize(t *testing.T) {
	wasm.ResetService()
	t.Cleanup(wasm.ResetService)

	_, err := wasm.Current()
	errutil.AssertErrorCode(t, err, errutil.CodeNotInitialized)

	api, _, err := decl.ParseAPI("", []decl.Source{{Name: "test.h", Text: testFuncs}})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wasm.Initialize(ctx, hostfunc.NewRegistry(api))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		errutil.AssertErrorCode(t, err, errutil.CodeDoubleInit)
	}
	assert.Equal(t, 1, succeeded)

	rt, err := wasm.Current()
	require.NoError(t, err)
	require.NoError(t, rt.Close(ctx))
}
