// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostfunc binds Go bodies to host API declarations.
//
// The declarations come from an apimodel.API; a body is registered per
// function name. Invoke validates a call against its declaration, supplies
// the implicit channel id and arena, and converts panics in bodies to
// errors.
package hostfunc

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/apimodel"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

// InternalChannel is the channel id supplied to functions called from a
// plugin instance.
const InternalChannel uint64 = 1<<63 + 2

// NoInstance is the caller id used for calls made by the embedding process.
const NoInstance int32 = -1

// Func is the body of a host API function. The arguments in call are
// borrowed: a body that keeps a callback handle past its return must Clone
// it. Callback handles in the result belong to the caller.
type Func func(ctx context.Context, call *Call) (object.Object, error)

// Call is one invocation of a host API function.
type Call struct {
	Func       *apimodel.Func
	Args       []object.Object
	InstanceID int32
	// ChannelID is set only when the declaration takes a channel id.
	ChannelID uint64
	// Arena is non-nil only when the declaration takes an arena.
	Arena *Arena
}

// Arg returns the i-th declared argument, or Nil.
func (c *Call) Arg(i int) object.Object {
	if i < 0 || i >= len(c.Args) || c.Args[i] == nil {
		return object.Nil{}
	}
	return c.Args[i]
}

// Arena is a per-call scratch region. Cleanups run in reverse order once
// the call has returned.
type Arena struct {
	mu       sync.Mutex
	cleanups []func()
}

// Defer schedules fn to run when the arena is released.
func (a *Arena) Defer(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanups = append(a.cleanups, fn)
}

func (a *Arena) release() {
	a.mu.Lock()
	cleanups := a.cleanups
	a.cleanups = nil
	a.mu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// Registry maps API function names to bodies.
//
// Registry is safe for concurrent use.
type Registry struct {
	api   *apimodel.API
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates a registry over the declarations in api.
func NewRegistry(api *apimodel.API) *Registry {
	return &Registry{api: api, funcs: make(map[string]Func)}
}

// API returns the declarations the registry serves.
func (r *Registry) API() *apimodel.API {
	return r.api
}

// Register binds fn to the declared function name, replacing any previous
// body.
func (r *Registry) Register(name string, fn Func) error {
	if fn == nil {
		return oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("function", name).Errorf("nil body for %s", name)
	}
	if _, ok := r.api.Func(name); !ok {
		return oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("function", name).Errorf("%s is not a declared API function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Implemented reports whether name has a body.
func (r *Registry) Implemented(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names returns the implemented function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke calls the body of name on behalf of instanceID.
func (r *Registry) Invoke(ctx context.Context, instanceID int32, name string, args []object.Object) (object.Object, error) {
	decl, ok := r.api.Func(name)
	if !ok {
		return nil, oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("function", name).Errorf("%s is not a declared API function", name)
	}
	if err := validateArgs(decl, args); err != nil {
		return nil, err
	}

	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, oops.In("hostfunc").Code(errutil.CodeHostFunction).
			With("function", name).Errorf("%s is not implemented by this host", name)
	}

	call := &Call{Func: decl, Args: args, InstanceID: instanceID}
	if decl.HasChannelID {
		call.ChannelID = InternalChannel
	}
	if decl.HasArena {
		call.Arena = &Arena{}
		defer call.Arena.release()
	}

	result, err := safeCall(ctx, fn, call)
	if err != nil {
		return nil, oops.In("hostfunc").Code(errutil.CodeHostFunction).With("function", name).Wrap(err)
	}
	if result == nil || decl.IsVoid() {
		return object.Nil{}, nil
	}
	return result, nil
}

func safeCall(ctx context.Context, fn Func, call *Call) (result object.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("hostfunc").Code(errutil.CodeHostFunction).
				With("function", call.Func.Name).
				Errorf("panic in %s: %v", call.Func.Name, r)
		}
	}()
	return fn(ctx, call)
}

func validateArgs(decl *apimodel.Func, args []object.Object) error {
	if len(args) != len(decl.Params) {
		return oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("function", decl.Name).
			With("want", len(decl.Params)).
			With("got", len(args)).
			Errorf("%s: wrong number of arguments: expected %d, got %d", decl.Name, len(decl.Params), len(args))
	}
	for i, p := range decl.Params {
		if p.Type.Kind != apimodel.KindKeyset || p.Type.Keyset == nil {
			continue
		}
		if err := validateKeyset(p.Type.Keyset, args[i]); err != nil {
			return oops.In("hostfunc").With("function", decl.Name).With("param", p.Name).Wrap(err)
		}
	}
	return nil
}

func validateKeyset(ks *apimodel.Keyset, arg object.Object) error {
	switch v := arg.(type) {
	case nil, object.Nil:
		return nil
	case object.Dictionary:
		for _, kv := range v {
			if !ks.HasField(kv.Key) {
				return oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
					With("keyset", ks.Name).
					With("key", kv.Key).
					Errorf("invalid key: '%s'", kv.Key)
			}
		}
		return nil
	default:
		return oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("keyset", ks.Name).
			Errorf("Dict(%s) expected, got %s", ks.Name, object.TypeOf(arg))
	}
}
