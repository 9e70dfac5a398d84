// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging builds the process logger: slog records stamped with the
// service identity and, inside a span, its trace and span ids.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// spanHandler decorates records with service attributes and span context.
type spanHandler struct {
	next    slog.Handler
	service string
	version string
}

func (h *spanHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.next.Handle(ctx, r)
}

func (h *spanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &spanHandler{next: h.next.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *spanHandler) WithGroup(name string) slog.Handler {
	return &spanHandler{next: h.next.WithGroup(name), service: h.service, version: h.version}
}

// Option adjusts a logger built by Setup.
type Option func(*slog.HandlerOptions)

// WithLevel sets the minimum level. The default is debug.
func WithLevel(level slog.Leveler) Option {
	return func(o *slog.HandlerOptions) { o.Level = level }
}

// WithSource adds the caller's file and line to each record.
func WithSource() Option {
	return func(o *slog.HandlerOptions) { o.AddSource = true }
}

// Setup creates a logger writing format ("json" or "text"; empty means
// json) to w, or to stderr when w is nil.
func Setup(service, version, format string, w io.Writer, opts ...Option) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: slog.LevelDebug}
	for _, opt := range opts {
		opt(ho)
	}

	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(w, ho)
	} else {
		base = slog.NewJSONHandler(w, ho)
	}
	return slog.New(&spanHandler{next: base, service: service, version: version})
}

// SetDefault installs a stderr logger as the slog default and returns it.
func SetDefault(service, version, format string, opts ...Option) *slog.Logger {
	logger := Setup(service, version, format, nil, opts...)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, oops.In("logging").
			Code(errutil.CodeInvalidArgument).
			With("level", name).
			Errorf("unknown log level %q: want debug, info, warn or error", name)
	}
}
