// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServe_RunsUntilCanceled is the only test that initializes the
// process-wide runtime.
func TestServe_RunsUntilCanceled(t *testing.T) {
	home := isolate(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := execute(t, ctx, "--plugins-dir", filepath.Join(home, "plugins"), "serve")
	require.NoError(t, err)
	assert.Contains(t, out, "nvimwasm serving plugins")
}

func TestMonitorServerErrors(t *testing.T) {
	opts := &globalOptions{logger: discardLogger()}

	t.Run("cancels on error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		errCh <- assert.AnError
		monitorServerErrors(ctx, cancel, errCh, "test", opts)
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("ignores a closed channel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)
		monitorServerErrors(ctx, cancel, errCh, "test", opts)
		assert.NoError(t, ctx.Err())
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
