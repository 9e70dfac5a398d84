// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

func asOops(err error) (oops.OopsError, bool) {
	return oops.AsOops(err)
}

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code, and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext is LogError with a context, so trace ids reach the record.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, "error", err)
		return
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if kv := oopsErr.Context(); len(kv) > 0 {
		attrs = append(attrs, "context", kv)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}
