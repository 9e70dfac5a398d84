// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/nvimwasm/internal/abi"
	"github.com/holomush/nvimwasm/internal/plugin/capability"
	"github.com/holomush/nvimwasm/internal/observability"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

type instance struct {
	id       int32
	loadID   ulid.ULID
	name     string
	plugin   string
	path     string
	loadedAt time.Time
	compiled wazero.CompiledModule
	mod      api.Module
}

// InstanceInfo describes a loaded instance.
type InstanceInfo struct {
	ID       int32     `json:"id" yaml:"id"`
	LoadID   string    `json:"load_id" yaml:"load_id"`
	Module   string    `json:"module" yaml:"module"`
	Plugin   string    `json:"plugin" yaml:"plugin"`
	Path     string    `json:"path" yaml:"path"`
	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
	Exports  []string  `json:"exports" yaml:"exports"`
}

func (inst *instance) info() InstanceInfo {
	exports := make([]string, 0)
	for name, def := range inst.mod.ExportedFunctionDefinitions() {
		if isCallable(def) {
			exports = append(exports, name)
		}
	}
	sort.Strings(exports)
	return InstanceInfo{
		ID:       inst.id,
		LoadID:   inst.loadID.String(),
		Module:   inst.name,
		Plugin:   inst.plugin,
		Path:     inst.path,
		LoadedAt: inst.loadedAt,
		Exports:  exports,
	}
}

func loadFailed(path string, err error, format string, args ...any) error {
	return oops.In("wasm").Code(errutil.CodeLoadFailed).With("path", path).Wrapf(err, format, args...)
}

// pluginName derives an instance base name from a module path.
func pluginName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load compiles and instantiates the module at path and returns its
// instance id.
func (r *Runtime) Load(ctx context.Context, path string, opts ...LoadOption) (id int32, err error) {
	lo := loadOptions{plugin: pluginName(path), grants: []string{capability.All}}
	for _, opt := range opts {
		opt(&lo)
	}

	ctx, span := r.tracer.Start(ctx, "Runtime.Load", trace.WithAttributes(
		attribute.String("wasm.path", path),
		attribute.String("plugin.name", lo.plugin),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		r.metrics.ObserveCall(observability.KindLoad, err, time.Since(start))
		recordSpanError(span, err)
	}()

	err = r.lock.run(ctx, func(ctx context.Context) error {
		var lerr error
		id, lerr = r.load(ctx, path, lo)
		return lerr
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Runtime) load(ctx context.Context, path string, lo loadOptions) (int32, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	if err := capability.Compile(lo.grants); err != nil {
		return 0, oops.In("wasm").With("path", path).Wrap(err)
	}

	bin, err := os.ReadFile(path) //nolint:gosec // G304: loading a caller-chosen module is the point
	if err != nil {
		return 0, loadFailed(path, err, "read module")
	}
	compiled, err := r.engine.CompileModule(ctx, bin)
	if err != nil {
		return 0, loadFailed(path, err, "compile module")
	}
	if err := checkConvention(compiled); err != nil {
		_ = compiled.Close(ctx)
		return 0, oops.In("wasm").With("path", path).Wrap(err)
	}

	id, err := r.ids.acquire()
	if err != nil {
		_ = compiled.Close(ctx)
		return 0, err
	}

	name := fmt.Sprintf("%s#%d", lo.plugin, id)
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime()
	mod, err := r.engine.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		_ = compiled.Close(ctx)
		r.ids.release(id)
		return 0, loadFailed(path, err, "instantiate module")
	}

	inst := &instance{
		id:       id,
		loadID:   ulid.Make(),
		name:     name,
		plugin:   lo.plugin,
		path:     path,
		loadedAt: time.Now(),
		compiled: compiled,
		mod:      mod,
	}
	r.mu.Lock()
	r.byID[id] = inst
	r.byModule[name] = inst
	count := len(r.byID)
	r.mu.Unlock()
	r.metrics.SetInstances(count)
	if err := r.enforcer.SetGrants(name, lo.grants); err != nil {
		r.evict(ctx, inst)
		return 0, err
	}

	if init := mod.ExportedFunction(InitializeExport); init != nil {
		callCtx, cancel := r.callContext(ctx)
		_, err := init.Call(callCtx)
		cancel()
		if err != nil {
			r.evict(ctx, inst)
			return 0, oops.In("wasm").Code(errutil.CodeLoadFailed).
				With("path", path).
				With("instance_id", id).
				Wrapf(err, "%s failed", InitializeExport)
		}
	}

	r.logger.InfoContext(ctx, "loaded wasm instance",
		"instance_id", id,
		"load_id", inst.loadID.String(),
		"module", name,
		"path", path)
	return id, nil
}

// checkConvention requires the exports every guest needs to receive
// arguments.
func checkConvention(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[MemoryExport]; !ok {
		return oops.In("wasm").Code(errutil.CodeLoadFailed).
			Errorf("module does not export %q", MemoryExport)
	}
	alloc, ok := compiled.ExportedFunctions()[abi.AllocateExport]
	if !ok {
		return oops.In("wasm").Code(errutil.CodeLoadFailed).
			Errorf("module does not export %q", abi.AllocateExport)
	}
	if !sameTypes(alloc.ParamTypes(), api.ValueTypeI32) || !sameTypes(alloc.ResultTypes(), api.ValueTypeI32) {
		return oops.In("wasm").Code(errutil.CodeSignatureMismatch).
			With("export", abi.AllocateExport).
			Errorf("%s must have signature (i32) -> i32", abi.AllocateExport)
	}
	return nil
}

// Unload closes an instance and returns its id to the pool. Callback
// handles it minted stay valid as values but are orphaned: calling them
// fails with INSTANCE_NOT_FOUND, they convert to the absent callback, and
// dropping them notifies nobody, even after the id is reused.
func (r *Runtime) Unload(ctx context.Context, id int32) error {
	return r.lock.run(ctx, func(ctx context.Context) error {
		if err := r.checkOpen(); err != nil {
			return err
		}
		inst, err := r.instance(id)
		if err != nil {
			return err
		}
		r.evict(ctx, inst)
		r.logger.InfoContext(ctx, "unloaded wasm instance", "instance_id", id, "module", inst.name)
		return nil
	})
}

// evict forgets inst and closes it. Evicting twice is harmless. Runs under
// the execution lock.
func (r *Runtime) evict(ctx context.Context, inst *instance) {
	r.mu.Lock()
	_, known := r.byID[inst.id]
	delete(r.byID, inst.id)
	delete(r.byModule, inst.name)
	count := len(r.byID)
	r.mu.Unlock()
	r.metrics.SetInstances(count)

	r.enforcer.RemoveGrants(inst.name)
	r.callbacks.Orphan(inst.id)
	ctx = context.WithoutCancel(ctx)
	if err := inst.mod.Close(ctx); err != nil {
		errutil.LogErrorContext(ctx, r.logger, "closing wasm instance", err)
	}
	if err := inst.compiled.Close(ctx); err != nil {
		errutil.LogErrorContext(ctx, r.logger, "closing compiled module", err)
	}
	if known {
		r.ids.release(inst.id)
	}
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
