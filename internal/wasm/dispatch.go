// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/nvimwasm/internal/abi"
	"github.com/holomush/nvimwasm/internal/observability"
	"github.com/holomush/nvimwasm/pkg/callback"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

func sameTypes(got []api.ValueType, want ...api.ValueType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// isCallable reports whether def follows the (ptr, len) -> packed result
// convention.
func isCallable(def api.FunctionDefinition) bool {
	return sameTypes(def.ParamTypes(), api.ValueTypeI32, api.ValueTypeI32) &&
		sameTypes(def.ResultTypes(), api.ValueTypeI64)
}

func signatureMismatch(name, want string, def api.FunctionDefinition) error {
	return oops.In("wasm").
		Code(errutil.CodeSignatureMismatch).
		With("export", name).
		Errorf("export %q has signature (%v) -> (%v), want %s",
			name, typeNames(def.ParamTypes()), typeNames(def.ResultTypes()), want)
}

func typeNames(ts []api.ValueType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = api.ValueTypeName(t)
	}
	return out
}

func (r *Runtime) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opts.callTimeout)
}

// CallFunction calls the export name of instance id with args.
//
// Callback handles in the result are owned by the caller. Handles in args
// are borrowed.
func (r *Runtime) CallFunction(ctx context.Context, id int32, name string, args []object.Object) (result object.Object, err error) {
	ctx, span := r.tracer.Start(ctx, "Runtime.CallFunction", trace.WithAttributes(
		attribute.Int("instance.id", int(id)),
		attribute.String("wasm.export", name),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		r.metrics.ObserveCall(observability.KindFunction, err, time.Since(start))
		r.metrics.SetLiveCallbacks(r.callbacks.Live())
		recordSpanError(span, err)
	}()

	err = r.lock.run(ctx, func(ctx context.Context) error {
		if err := r.checkOpen(); err != nil {
			return err
		}
		inst, err := r.instance(id)
		if err != nil {
			return err
		}
		fn := inst.mod.ExportedFunction(name)
		if fn == nil {
			return oops.In("wasm").
				Code(errutil.CodeExportNotFound).
				With("instance_id", id).
				With("export", name).
				Errorf("instance %d does not export %q", id, name)
		}
		if !isCallable(fn.Definition()) {
			return signatureMismatch(name, "(i32, i32) -> (i64)", fn.Definition())
		}
		result, err = r.dispatch(ctx, inst, fn, name, args)
		return err
	})
	if err != nil {
		return nil, oops.In("wasm").With("instance_id", id).With("export", name).Wrap(err)
	}
	return result, nil
}

// CallCallback invokes the guest function behind h with args.
func (r *Runtime) CallCallback(ctx context.Context, h *callback.Handle, args []object.Object) (result object.Object, err error) {
	ctx, span := r.tracer.Start(ctx, "Runtime.CallCallback", trace.WithAttributes(
		attribute.Int("instance.id", int(h.InstanceID())),
		attribute.Int64("callback.ref", int64(h.Ref())),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		r.metrics.ObserveCall(observability.KindCallback, err, time.Since(start))
		r.metrics.SetLiveCallbacks(r.callbacks.Live())
		recordSpanError(span, err)
	}()

	if h.IsAbsent() {
		return nil, oops.In("wasm").Code(errutil.CodeInvalidArgument).Errorf("cannot call the absent callback")
	}

	err = r.lock.run(ctx, func(ctx context.Context) error {
		if err := r.checkOpen(); err != nil {
			return err
		}
		if h.Orphaned() {
			return oops.In("wasm").
				Code(errutil.CodeInstanceNotFound).
				With("instance_id", h.InstanceID()).
				Errorf("instance %d that owned the callback was unloaded", h.InstanceID())
		}
		inst, err := r.instance(h.InstanceID())
		if err != nil {
			return err
		}
		fn := inst.mod.ExportedFunction(CallCallbackExport)
		if fn == nil {
			return oops.In("wasm").
				Code(errutil.CodeExportNotFound).
				With("instance_id", inst.id).
				With("export", CallCallbackExport).
				Errorf("instance %d does not export %q", inst.id, CallCallbackExport)
		}
		def := fn.Definition()
		if !sameTypes(def.ParamTypes(), api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32) ||
			!sameTypes(def.ResultTypes(), api.ValueTypeI64) {
			return signatureMismatch(CallCallbackExport, "(i32, i32, i32) -> (i64)", def)
		}
		result, err = r.dispatch(ctx, inst, fn, CallCallbackExport, args, uint64(h.Ref()))
		return err
	})
	if err != nil {
		return nil, oops.In("wasm").With("callback", h.String()).Wrap(err)
	}
	return result, nil
}

// CallCallbackNamed calls h with name prepended to args as a String.
func (r *Runtime) CallCallbackNamed(ctx context.Context, h *callback.Handle, name string, args []object.Object) (object.Object, error) {
	full := make([]object.Object, 0, len(args)+1)
	full = append(full, object.String(name))
	full = append(full, args...)
	return r.CallCallback(ctx, h, full)
}

// DropCallback releases h. The owning instance is told to free the
// reference when the last handle to it goes.
func (r *Runtime) DropCallback(ctx context.Context, h *callback.Handle) error {
	err := h.Drop(ctx)
	r.metrics.SetLiveCallbacks(r.callbacks.Live())
	return err
}

// notifyDrop runs the guest's drop-callback export. Instances that are gone
// or do not export it are skipped. The orphan check repeats under the lock
// since an unload can land between the release and the notification.
func (r *Runtime) notifyDrop(ctx context.Context, h *callback.Handle) (err error) {
	start := time.Now()
	defer func() { r.metrics.ObserveCall(observability.KindDrop, err, time.Since(start)) }()

	instanceID, ref := h.InstanceID(), h.Ref()
	return r.lock.run(ctx, func(ctx context.Context) error {
		if r.closed {
			return nil
		}
		if h.Orphaned() {
			r.logger.DebugContext(ctx, "dropping callback of unloaded instance",
				"instance_id", instanceID, "ref", ref)
			return nil
		}
		inst, err := r.instance(instanceID)
		if err != nil {
			r.logger.DebugContext(ctx, "dropping callback of unloaded instance",
				"instance_id", instanceID, "ref", ref)
			return nil
		}
		fn := inst.mod.ExportedFunction(DropCallbackExport)
		if fn == nil {
			return nil
		}
		if !sameTypes(fn.Definition().ParamTypes(), api.ValueTypeI32) || len(fn.Definition().ResultTypes()) != 0 {
			return signatureMismatch(DropCallbackExport, "(i32) -> ()", fn.Definition())
		}
		callCtx, cancel := r.callContext(ctx)
		defer cancel()
		if _, err := fn.Call(callCtx, uint64(ref)); err != nil {
			return r.callFailed(ctx, callCtx, inst, DropCallbackExport, err)
		}
		return nil
	})
}

// dispatch converts args, runs fn and converts the result. leading params
// precede the (ptr, len) pair. Runs under the execution lock.
//
// The post-return export runs once fn has returned a result, even when that
// result fails to read or decode. It is skipped when fn traps or is
// interrupted: no result pointer came back, so there is nothing for the
// guest to free, and an interrupted instance is evicted anyway.
func (r *Runtime) dispatch(ctx context.Context, inst *instance, fn api.Function, name string, args []object.Object, leading ...uint64) (object.Object, error) {
	cc := r.convertContext(inst)
	values, err := cc.ToGuestAll(args)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	packed, err := abi.WriteEnvelope(callCtx, inst.mod, abi.Envelope{Values: values})
	if err != nil {
		if callCtx.Err() != nil {
			return nil, r.callFailed(ctx, callCtx, inst, abi.AllocateExport, err)
		}
		return nil, err
	}
	ptr, length := abi.UnpackPtrLen(packed)
	params := append(leading, uint64(ptr), uint64(length))

	res, err := fn.Call(callCtx, params...)
	if err != nil {
		return nil, r.callFailed(ctx, callCtx, inst, name, err)
	}

	resPtr, resLen := abi.UnpackPtrLen(res[0])
	data, readErr := abi.Read(inst.mod, resPtr, resLen)
	r.postReturn(callCtx, inst, name, res[0])
	if readErr != nil {
		return nil, readErr
	}

	env, err := abi.Decode(data)
	if err != nil {
		return nil, err
	}
	if env.Err != "" {
		return nil, oops.In("wasm").
			Code(errutil.CodeGuestError).
			With("instance_id", inst.id).
			Errorf("%s", env.Err)
	}
	out, err := env.Single()
	if err != nil {
		return nil, err
	}
	return cc.ToHost(ctx, out)
}

// postReturn runs the guest's cleanup export for name, if any, after the
// result has been copied out. Failures are logged.
func (r *Runtime) postReturn(ctx context.Context, inst *instance, name string, packed uint64) {
	fn := inst.mod.ExportedFunction(PostReturnPrefix + name)
	if fn == nil {
		return
	}
	def := fn.Definition()
	if !sameTypes(def.ParamTypes(), api.ValueTypeI64) || len(def.ResultTypes()) != 0 {
		r.logger.WarnContext(ctx, "ignoring post-return export with wrong signature",
			"instance_id", inst.id, "export", PostReturnPrefix+name)
		return
	}
	if _, err := fn.Call(ctx, packed); err != nil {
		errutil.LogErrorContext(ctx, r.logger, "post-return cleanup failed",
			oops.In("wasm").With("instance_id", inst.id).With("export", PostReturnPrefix+name).Wrap(err))
	}
}

// callFailed classifies a failed guest call. Expired or canceled calls and
// exits leave the instance closed, so it is evicted.
func (r *Runtime) callFailed(ctx, callCtx context.Context, inst *instance, name string, err error) error {
	b := oops.In("wasm").With("instance_id", inst.id).With("export", name)

	var exit *sys.ExitError
	switch {
	case callCtx.Err() != nil:
		r.evict(ctx, inst)
		r.logger.WarnContext(ctx, "evicted wasm instance after interrupted call",
			"instance_id", inst.id, "export", name, "cause", callCtx.Err())
		return b.Code(errutil.CodeCallTimeout).Wrapf(err, "call to %q interrupted: %v", name, callCtx.Err())
	case errors.As(err, &exit):
		r.evict(ctx, inst)
		return b.Code(errutil.CodeTrap).With("exit_code", exit.ExitCode()).Wrapf(err, "instance exited during %q", name)
	default:
		return b.Code(errutil.CodeTrap).Wrapf(err, "trap in %q", name)
	}
}
