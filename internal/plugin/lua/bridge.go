// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/pkg/callback"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

// ModuleName is the global the bridge installs in its state.
const ModuleName = "wasm"

const callbackTypeName = "wasm.callback"

// Runtime is the part of the plugin runtime scripts can drive.
type Runtime interface {
	Load(ctx context.Context, path string, opts ...wasm.LoadOption) (int32, error)
	Unload(ctx context.Context, id int32) error
	CallFunction(ctx context.Context, id int32, name string, args []object.Object) (object.Object, error)
	CallCallback(ctx context.Context, h *callback.Handle, args []object.Object) (object.Object, error)
	CallCallbackNamed(ctx context.Context, h *callback.Handle, name string, args []object.Object) (object.Object, error)
	DropCallback(ctx context.Context, h *callback.Handle) error
}

var _ Runtime = (*wasm.Runtime)(nil)

// Bridge owns a sandboxed Lua state with the wasm module installed.
//
// Callbacks returned to Lua are owned by the bridge until the script drops
// them; Close drops whatever is left. A Bridge is not safe for concurrent
// use.
type Bridge struct {
	state   *lua.LState
	rt      Runtime
	logger  *slog.Logger
	refs    *Refs
	handles map[*callback.Handle]struct{}
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger behind wasm.log.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// luaCallback is the userdata payload of a callback. h is nil once dropped.
type luaCallback struct {
	h *callback.Handle
}

// NewBridge creates a state from factory and installs the wasm module.
func NewBridge(ctx context.Context, factory *StateFactory, rt Runtime, opts ...BridgeOption) (*Bridge, error) {
	L, err := factory.NewState(ctx)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		state:   L,
		rt:      rt,
		logger:  slog.Default(),
		refs:    NewRefs(),
		handles: make(map[*callback.Handle]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.open()
	return b, nil
}

func (b *Bridge) open() {
	L := b.state
	mt := L.NewTypeMetatable(callbackTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"call":       b.callbackCall,
		"call_named": b.callbackCallNamed,
		"drop":       b.callbackDrop,
		"instance":   b.callbackInstance,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(callbackString))

	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"load":   b.load,
		"unload": b.unload,
		"call":   b.call,
		"log":    b.log,
	})
	L.SetGlobal(ModuleName, mod)
}

// State returns the bridge's Lua state.
func (b *Bridge) State() *lua.LState {
	return b.state
}

// Refs exposes the table holding Lua values passed to the host.
func (b *Bridge) Refs() *Refs {
	return b.refs
}

// Live returns the number of callbacks the bridge still owns.
func (b *Bridge) Live() int {
	return len(b.handles)
}

// DoString runs src in the bridge's state.
func (b *Bridge) DoString(src string) error {
	if err := b.state.DoString(src); err != nil {
		return oops.In("lua").Wrapf(err, "script failed")
	}
	return nil
}

// DoFile runs the script at path in the bridge's state.
func (b *Bridge) DoFile(path string) error {
	if err := b.state.DoFile(path); err != nil {
		return oops.In("lua").With("script", path).Wrapf(err, "script %s failed", path)
	}
	return nil
}

// Close drops every callback the script did not drop and closes the state.
func (b *Bridge) Close(ctx context.Context) error {
	var errs []error
	for h := range b.handles {
		if err := b.rt.DropCallback(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	clear(b.handles)
	b.refs = NewRefs()
	b.state.Close()
	return errors.Join(errs...)
}

func (b *Bridge) context(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (b *Bridge) newCallback(L *lua.LState, h *callback.Handle) *lua.LUserData {
	b.handles[h] = struct{}{}
	ud := L.NewUserData()
	ud.Value = &luaCallback{h: h}
	L.SetMetatable(ud, L.GetTypeMetatable(callbackTypeName))
	return ud
}

// pushError pushes nil, the error message and its code, and returns 3.
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	L.Push(lua.LString(errutil.Code(err)))
	return 3
}

// pushSuccess pushes value followed by nil (no error) and returns 2.
func pushSuccess(L *lua.LState, value lua.LValue) int {
	L.Push(value)
	L.Push(lua.LNil)
	return 2
}

// args converts stack values from index start on. The returned refs must be
// released once the call is over.
func (b *Bridge) args(L *lua.LState, start int) ([]object.Object, []object.LuaRef, error) {
	c := &converter{refs: b.refs}
	top := L.GetTop()
	out := make([]object.Object, 0, max(top-start+1, 0))
	for i := start; i <= top; i++ {
		o, err := c.toObject(L.Get(i), 0)
		if err != nil {
			b.refs.Unref(c.taken...)
			return nil, nil, oops.With("arg", i-start+1).Wrap(err)
		}
		out = append(out, o)
	}
	return out, c.taken, nil
}

// invoke runs call with the converted arguments and pushes its result.
func (b *Bridge) invoke(L *lua.LState, start int, call func(ctx context.Context, args []object.Object) (object.Object, error)) int {
	args, refs, err := b.args(L, start)
	if err != nil {
		return pushError(L, err)
	}
	defer b.refs.Unref(refs...)

	result, err := call(b.context(L), args)
	if err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, b.fromObject(L, result))
}

// load implements wasm.load(path [, {name = ..., grants = {...}}]).
func (b *Bridge) load(L *lua.LState) int {
	path := L.CheckString(1)
	var opts []wasm.LoadOption
	if settings := L.OptTable(2, nil); settings != nil {
		name := lua.LVAsString(settings.RawGetString("name"))
		if name == "" {
			L.ArgError(2, "name is required when grants are given")
			return 0
		}
		var grants []string
		if t, ok := settings.RawGetString("grants").(*lua.LTable); ok {
			t.ForEach(func(_, v lua.LValue) {
				grants = append(grants, lua.LVAsString(v))
			})
		}
		opts = append(opts, wasm.AsPlugin(name, grants))
	}

	id, err := b.rt.Load(b.context(L), path, opts...)
	if err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, lua.LNumber(id))
}

// unload implements wasm.unload(id). It returns true or nil, err, code.
func (b *Bridge) unload(L *lua.LState) int {
	id, err := checkInstanceID(L, 1)
	if err != nil {
		return pushError(L, err)
	}
	if err = b.rt.Unload(b.context(L), id); err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, lua.LTrue)
}

// checkInstanceID reads an instance id at idx. Numbers that are fractional or
// outside the int32 id space are rejected rather than truncated.
func checkInstanceID(L *lua.LState, idx int) (int32, error) {
	n := float64(L.CheckNumber(idx))
	if n != math.Trunc(n) || n < 0 || n > math.MaxInt32 {
		return 0, oops.In("lua").
			Code(errutil.CodeInvalidArgument).
			With("instance_id", n).
			Errorf("instance id must be an integer in [0, %d], got %v", math.MaxInt32, L.Get(idx))
	}
	return int32(n), nil
}

// call implements wasm.call(id, name, ...).
func (b *Bridge) call(L *lua.LState) int {
	id, err := checkInstanceID(L, 1)
	if err != nil {
		return pushError(L, err)
	}
	name := L.CheckString(2)
	return b.invoke(L, 3, func(ctx context.Context, args []object.Object) (object.Object, error) {
		return b.rt.CallFunction(ctx, id, name, args)
	})
}

// log implements wasm.log(level, message).
func (b *Bridge) log(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)
	ctx := b.context(L)
	switch level {
	case "debug":
		b.logger.DebugContext(ctx, message)
	case "warn":
		b.logger.WarnContext(ctx, message)
	case "error":
		b.logger.ErrorContext(ctx, message)
	default:
		b.logger.InfoContext(ctx, message)
	}
	return 0
}

func checkCallback(L *lua.LState) *luaCallback {
	ud := L.CheckUserData(1)
	lc, ok := ud.Value.(*luaCallback)
	if !ok {
		L.ArgError(1, "callback expected")
		return nil
	}
	return lc
}

func droppedError() error {
	return oops.In("lua").Code(errutil.CodeInvalidArgument).Errorf("callback was dropped")
}

func (b *Bridge) callbackCall(L *lua.LState) int {
	lc := checkCallback(L)
	if lc.h == nil {
		return pushError(L, droppedError())
	}
	return b.invoke(L, 2, func(ctx context.Context, args []object.Object) (object.Object, error) {
		return b.rt.CallCallback(ctx, lc.h, args)
	})
}

func (b *Bridge) callbackCallNamed(L *lua.LState) int {
	lc := checkCallback(L)
	name := L.CheckString(2)
	if lc.h == nil {
		return pushError(L, droppedError())
	}
	return b.invoke(L, 3, func(ctx context.Context, args []object.Object) (object.Object, error) {
		return b.rt.CallCallbackNamed(ctx, lc.h, name, args)
	})
}

// callbackDrop releases the callback. Dropping twice is a no-op.
func (b *Bridge) callbackDrop(L *lua.LState) int {
	lc := checkCallback(L)
	if lc.h == nil {
		return pushSuccess(L, lua.LTrue)
	}
	h := lc.h
	lc.h = nil
	delete(b.handles, h)
	if err := b.rt.DropCallback(b.context(L), h); err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, lua.LTrue)
}

func (b *Bridge) callbackInstance(L *lua.LState) int {
	lc := checkCallback(L)
	if lc.h == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(lc.h.InstanceID()))
	return 1
}

func callbackString(L *lua.LState) int {
	lc := checkCallback(L)
	if lc.h == nil {
		L.Push(lua.LString("callback(dropped)"))
		return 1
	}
	L.Push(lua.LString(lc.h.String()))
	return 1
}
