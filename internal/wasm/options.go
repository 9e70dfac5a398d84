// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/nvimwasm/internal/observability"
	"github.com/holomush/nvimwasm/internal/plugin/capability"
)

type options struct {
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          *observability.Metrics
	enforcer         *capability.Enforcer
	cacheDir         string
	memoryLimitPages uint32
	callTimeout      time.Duration
	maxInstances     int32
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer sets the tracer for load and dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMetrics records call, instance and callback metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEnforcer shares a capability enforcer with the caller.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(o *options) { o.enforcer = e }
}

// WithCacheDir keeps compiled modules in dir across processes.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithMemoryLimitPages caps each instance's memory, in 64 KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) { o.memoryLimitPages = pages }
}

// WithCallTimeout bounds every guest call. Zero means no limit.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithMaxInstances lowers the instance capacity below MaxInstances.
func WithMaxInstances(n int32) Option {
	return func(o *options) { o.maxInstances = n }
}

// LoadOption configures a single Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	plugin string
	grants []string
}

// AsPlugin loads the module on behalf of a named plugin with the given
// capability grants. Without it the module is named after its file and may
// call every host function.
func AsPlugin(name string, grants []string) LoadOption {
	return func(o *loadOptions) {
		o.plugin = name
		o.grants = append([]string(nil), grants...)
	}
}
