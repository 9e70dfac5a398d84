// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/holomush/nvimwasm/internal/apidata"
	"github.com/holomush/nvimwasm/internal/decl"
	"github.com/holomush/nvimwasm/internal/plugin/hostfunc"
	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/internal/xdg"
	"github.com/holomush/nvimwasm/pkg/apimodel"
)

// runtimeFactory is wasm.New or wasm.Initialize.
type runtimeFactory func(ctx context.Context, host *hostfunc.Registry, opts ...wasm.Option) (*wasm.Runtime, error)

// loadAPI parses the embedded declarations, failing on the first bad line
// when strict is set or the configuration asks for it.
func (o *globalOptions) loadAPI(ctx context.Context, strict bool) (*apimodel.API, *decl.Report, error) {
	var opts []decl.Option
	if strict || o.cfg.StrictDecls {
		opts = append(opts, decl.Strict())
	}
	api, report, err := apidata.Load(opts...)
	if err != nil {
		return nil, nil, err
	}
	report.LogSkipped(ctx, o.logger)
	return api, report, nil
}

// newRuntime builds the host function registry with the standard functions
// and a runtime configured from the loaded settings.
func (o *globalOptions) newRuntime(ctx context.Context, factory runtimeFactory, extra ...wasm.Option) (*wasm.Runtime, *apimodel.API, error) {
	api, _, err := o.loadAPI(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	host := hostfunc.NewRegistry(api)
	if err := hostfunc.NewStandard(hostfunc.NewMemoryVars(), o.logger).Register(host); err != nil {
		return nil, nil, err
	}

	opts := []wasm.Option{
		wasm.WithLogger(o.logger),
		wasm.WithTracer(otel.Tracer(serviceName)),
		wasm.WithMemoryLimitPages(o.cfg.MemoryLimitPages),
		wasm.WithCallTimeout(o.cfg.CallTimeout),
		wasm.WithMaxInstances(int32(o.cfg.MaxInstances)), //nolint:gosec // G115: validated to fit int32
	}
	if o.cfg.CacheDir != "" {
		if err := xdg.EnsureDir(o.cfg.CacheDir); err != nil {
			return nil, nil, err
		}
		opts = append(opts, wasm.WithCacheDir(o.cfg.CacheDir))
	}
	opts = append(opts, extra...)

	rt, err := factory(ctx, host, opts...)
	if err != nil {
		return nil, nil, err
	}
	o.logger.DebugContext(ctx, "plugin runtime ready",
		"api_level", api.Level(),
		"functions", len(api.Funcs()),
		"implemented", len(host.Names()))
	return rt, api, nil
}
