// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero/api"

	"github.com/holomush/nvimwasm/internal/abi"
	"github.com/holomush/nvimwasm/internal/convert"
	"github.com/holomush/nvimwasm/internal/observability"
	"github.com/holomush/nvimwasm/internal/plugin/hostfunc"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

// instantiateHostModule exports every declared API function to guests under
// its boundary name.
func (r *Runtime) instantiateHostModule(ctx context.Context) error {
	builder := r.engine.NewHostModuleBuilder(HostModule)
	params := []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	results := []api.ValueType{api.ValueTypeI64}

	for _, fn := range r.host.API().Funcs() {
		name := fn.Name
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				ptr, length := uint32(stack[0]), uint32(stack[1]) //nolint:gosec // G115: i32 params
				stack[0] = r.handleHostCall(ctx, mod, name, ptr, length)
			}), params, results).
			WithName(name).
			WithParameterNames("ptr", "len").
			Export(fn.WitName())
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return oops.In("wasm").With("module", HostModule).Wrapf(err, "instantiate host module")
	}
	return nil
}

// handleHostCall serves one guest call to a host API function. Every
// failure is reported to the guest as an error envelope.
func (r *Runtime) handleHostCall(ctx context.Context, mod api.Module, name string, ptr, length uint32) uint64 {
	start := time.Now()
	result, err := r.hostCall(ctx, mod, name, ptr, length)
	r.metrics.ObserveCall(observability.KindHost, err, time.Since(start))

	env := abi.Envelope{Values: []abi.Object{result}}
	if err != nil {
		r.logger.DebugContext(ctx, "host function failed",
			"function", name,
			"module", mod.Name(),
			"code", errutil.Code(err),
			"error", err)
		env = abi.Envelope{Err: err.Error()}
	}
	packed, werr := abi.WriteEnvelope(ctx, mod, env)
	if werr != nil {
		errutil.LogErrorContext(ctx, r.logger, "writing host function result",
			oops.In("wasm").With("function", name).With("module", mod.Name()).Wrap(werr))
		return 0
	}
	return packed
}

func (r *Runtime) hostCall(ctx context.Context, mod api.Module, name string, ptr, length uint32) (abi.Object, error) {
	inst, ok := r.instanceFor(mod)
	if !ok {
		return abi.Object{}, oops.In("wasm").
			Code(errutil.CodeInstanceNotFound).
			With("module", mod.Name()).
			Errorf("calling module %q is not a loaded instance", mod.Name())
	}
	if err := r.enforcer.Require(inst.name, name); err != nil {
		r.metrics.RecordDenial(name)
		return abi.Object{}, err
	}

	env, err := abi.ReadEnvelope(mod, abi.PackPtrLen(ptr, length))
	if err != nil {
		return abi.Object{}, err
	}

	cc := r.convertContext(inst)
	args, err := cc.ToHostAll(ctx, env.Values)
	if err != nil {
		return abi.Object{}, err
	}
	result, err := r.host.Invoke(ctx, inst.id, name, args)
	convert.Release(ctx, args...)
	if err != nil {
		return abi.Object{}, err
	}
	defer convert.Release(ctx, result)
	return cc.ToGuest(result)
}

// bindBuiltins binds the runtime's own API functions when declared.
func (r *Runtime) bindBuiltins() error {
	builtins := map[string]hostfunc.Func{
		"nvim_wasm_load":      r.builtinLoad,
		"nvim_wasm_call_func": r.builtinCallFunc,
	}
	for name, fn := range builtins {
		if _, ok := r.host.API().Func(name); !ok {
			continue
		}
		if err := r.host.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// builtinLoad loads a module on behalf of the caller; a module loaded by a
// plugin inherits the plugin's grants.
func (r *Runtime) builtinLoad(ctx context.Context, call *hostfunc.Call) (object.Object, error) {
	path, ok := call.Arg(0).(object.String)
	if !ok {
		return nil, oops.In("wasm").Code(errutil.CodeInvalidArgument).
			Errorf("nvim_wasm_load: file must be String, got %s", object.TypeOf(call.Arg(0)))
	}
	var opts []LoadOption
	if call.InstanceID != hostfunc.NoInstance {
		caller, err := r.instance(call.InstanceID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, AsPlugin(pluginName(string(path)), r.enforcer.Grants(caller.name)))
	}
	id, err := r.Load(ctx, string(path), opts...)
	if err != nil {
		return nil, err
	}
	return object.Integer(id), nil
}

func (r *Runtime) builtinCallFunc(ctx context.Context, call *hostfunc.Call) (object.Object, error) {
	id, ok := call.Arg(0).(object.Integer)
	if !ok || id < 0 || id > MaxInstances {
		return nil, oops.In("wasm").Code(errutil.CodeInvalidArgument).
			Errorf("nvim_wasm_call_func: instance_id must be a non-negative Integer, got %v", call.Arg(0))
	}
	name, ok := call.Arg(1).(object.String)
	if !ok {
		return nil, oops.In("wasm").Code(errutil.CodeInvalidArgument).
			Errorf("nvim_wasm_call_func: func_name must be String, got %s", object.TypeOf(call.Arg(1)))
	}
	var args []object.Object
	switch v := call.Arg(2).(type) {
	case object.Array:
		args = v
	case object.Nil:
	default:
		return nil, oops.In("wasm").Code(errutil.CodeInvalidArgument).
			Errorf("nvim_wasm_call_func: args must be Array, got %s", object.TypeOf(v))
	}
	return r.CallFunction(ctx, int32(id), string(name), args) //nolint:gosec // G115: range checked above
}
