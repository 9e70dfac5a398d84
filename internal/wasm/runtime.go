// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package wasm is the plugin host runtime: it loads sandboxed WebAssembly
// modules, dispatches calls into them and back into host API functions, and
// converts values at the boundary.
//
// All guest execution in the process is serialized by one lock; nested calls
// made from inside a host function re-enter it.
package wasm

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/holomush/nvimwasm/internal/convert"
	"github.com/holomush/nvimwasm/internal/observability"
	"github.com/holomush/nvimwasm/internal/plugin/capability"
	"github.com/holomush/nvimwasm/internal/plugin/hostfunc"
	"github.com/holomush/nvimwasm/pkg/callback"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// Names shared with guests.
const (
	HostModule         = "nvim:api/nvim-api"
	CallCallbackExport = "nvim:api/client-callback-impl#call-callback"
	DropCallbackExport = "nvim:api/client-callback-impl#drop-callback"
	PostReturnPrefix   = "cabi_post_"
	InitializeExport   = "_initialize"
	MemoryExport       = "memory"
)

// Runtime owns the engine and every loaded instance.
type Runtime struct {
	opts      options
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *observability.Metrics
	enforcer  *capability.Enforcer
	host      *hostfunc.Registry
	callbacks *callback.Registry
	lock      *execLock

	engine wazero.Runtime
	cache  wazero.CompilationCache

	// ids and closed are guarded by the execution lock; the maps are also
	// read by Instances, hence mu.
	ids      *idPool
	closed   bool
	mu       sync.RWMutex
	byID     map[int32]*instance
	byModule map[string]*instance
}

// New creates a runtime whose guests import the functions declared by host.
// When host declares nvim_wasm_load and nvim_wasm_call_func, their bodies
// are bound to this runtime.
func New(ctx context.Context, host *hostfunc.Registry, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("nvimwasm")
	}
	if o.enforcer == nil {
		o.enforcer = capability.NewEnforcer()
	}

	r := &Runtime{
		opts:     o,
		logger:   o.logger,
		tracer:   o.tracer,
		metrics:  o.metrics,
		enforcer: o.enforcer,
		host:     host,
		lock:     newExecLock(),
		ids:      newIDPool(o.maxInstances),
		byID:     make(map[int32]*instance),
		byModule: make(map[string]*instance),
	}
	r.callbacks = callback.NewRegistry(r.notifyDrop)

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if o.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(o.memoryLimitPages)
	}
	if o.cacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(o.cacheDir)
		if err != nil {
			return nil, oops.In("wasm").With("cache_dir", o.cacheDir).Wrapf(err, "open compilation cache")
		}
		r.cache = cache
		cfg = cfg.WithCompilationCache(cache)
	}
	r.engine = wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.engine); err != nil {
		_ = r.engine.Close(ctx)
		return nil, oops.In("wasm").Wrapf(err, "instantiate WASI")
	}
	if err := r.bindBuiltins(); err != nil {
		_ = r.engine.Close(ctx)
		return nil, err
	}
	if err := r.instantiateHostModule(ctx); err != nil {
		_ = r.engine.Close(ctx)
		return nil, err
	}
	return r, nil
}

// Callbacks returns the registry that owns every callback handle minted by
// this runtime.
func (r *Runtime) Callbacks() *callback.Registry {
	return r.callbacks
}

// Enforcer returns the capability grants of loaded instances.
func (r *Runtime) Enforcer() *capability.Enforcer {
	return r.enforcer
}

// Close unloads every instance and releases the engine. Later calls fail
// with NOT_INITIALIZED.
func (r *Runtime) Close(ctx context.Context) error {
	return r.lock.run(ctx, func(ctx context.Context) error {
		if r.closed {
			return nil
		}
		r.closed = true

		r.mu.Lock()
		for id, inst := range r.byID {
			r.enforcer.RemoveGrants(inst.name)
			delete(r.byID, id)
			delete(r.byModule, inst.name)
		}
		r.mu.Unlock()
		r.metrics.SetInstances(0)

		err := r.engine.Close(ctx)
		if r.cache != nil {
			if cerr := r.cache.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}
		if err != nil {
			return oops.In("wasm").Wrapf(err, "close runtime")
		}
		return nil
	})
}

func (r *Runtime) checkOpen() error {
	if r.closed {
		return oops.In("wasm").Code(errutil.CodeNotInitialized).Errorf("plugin runtime is closed")
	}
	return nil
}

// instance looks up a loaded instance.
func (r *Runtime) instance(id int32) (*instance, error) {
	r.mu.RLock()
	inst, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, oops.In("wasm").
			Code(errutil.CodeInstanceNotFound).
			With("instance_id", id).
			Errorf("no instance with id %d", id)
	}
	return inst, nil
}

// instanceFor resolves the instance a host function was called from.
func (r *Runtime) instanceFor(mod api.Module) (*instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byModule[mod.Name()]
	return inst, ok
}

func (r *Runtime) convertContext(inst *instance) convert.Context {
	return convert.Context{InstanceID: inst.id, Callbacks: r.callbacks}
}

// Instances describes every loaded instance, ordered by id.
func (r *Runtime) Instances() []InstanceInfo {
	r.mu.RLock()
	out := make([]InstanceInfo, 0, len(r.byID))
	for _, inst := range r.byID {
		out = append(out, inst.info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Info describes one loaded instance.
func (r *Runtime) Info(id int32) (InstanceInfo, error) {
	inst, err := r.instance(id)
	if err != nil {
		return InstanceInfo{}, err
	}
	return inst.info(), nil
}
