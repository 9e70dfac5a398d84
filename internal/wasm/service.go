// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/internal/plugin/hostfunc"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// The process-wide runtime. It is created once by Initialize and never
// replaced, even after Close.
var (
	serviceMu sync.Mutex
	service   *Runtime
)

// Initialize creates the process-wide runtime. A second call fails with
// DOUBLE_INITIALIZATION, including one racing the first.
func Initialize(ctx context.Context, host *hostfunc.Registry, opts ...Option) (*Runtime, error) {
	serviceMu.Lock()
	defer serviceMu.Unlock()

	if service != nil {
		return nil, oops.In("wasm").
			Code(errutil.CodeDoubleInit).
			Errorf("plugin runtime is already initialized")
	}
	r, err := New(ctx, host, opts...)
	if err != nil {
		return nil, err
	}
	service = r
	return r, nil
}

// Current returns the process-wide runtime, or NOT_INITIALIZED.
func Current() (*Runtime, error) {
	serviceMu.Lock()
	defer serviceMu.Unlock()

	if service == nil {
		return nil, oops.In("wasm").
			Code(errutil.CodeNotInitialized).
			Errorf("plugin runtime is not initialized")
	}
	return service, nil
}
