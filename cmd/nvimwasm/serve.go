// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/nvimwasm/internal/observability"
	"github.com/holomush/nvimwasm/internal/plugin"
	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load all plugins and serve metrics until interrupted",
		Long: `Initialize the process-wide plugin runtime, load every plugin in the
plugins directory and keep them loaded until SIGINT or SIGTERM. When
metrics-addr is set, /metrics, /healthz/liveness, /healthz/readiness and
/debug/instances are served there; readiness turns on once the plugins are
loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *globalOptions) error {
	logger := opts.logger
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		ready     atomic.Bool
		running   atomic.Pointer[wasm.Runtime]
		obsServer *observability.Server
		extra     []wasm.Option
	)
	if opts.cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(opts.cfg.MetricsAddr, ready.Load,
			observability.WithLogger(logger),
			observability.WithInstances(func() any {
				rt := running.Load()
				if rt == nil {
					return []wasm.InstanceInfo{}
				}
				return rt.Instances()
			}))
		obsErrs, err := obsServer.Start()
		if err != nil {
			return oops.In("cli").Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrs, "observability", opts)
		logger.InfoContext(ctx, "observability server started", "addr", obsServer.Addr())
		extra = append(extra, wasm.WithMetrics(obsServer.Metrics()))
	}
	defer func() {
		if obsServer == nil {
			return
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}()

	rt, api, err := opts.newRuntime(ctx, wasm.Initialize, extra...)
	if err != nil {
		return err
	}
	running.Store(rt)
	defer func() {
		running.Store(nil)
		if err := rt.Close(context.Background()); err != nil {
			errutil.LogError(logger, "error closing plugin runtime", err)
		}
	}()

	mgr := plugin.NewManager(opts.cfg.PluginsDir, rt,
		plugin.WithAPILevel(int(api.Level())),
		plugin.WithLogger(logger))
	defer func() {
		if err := mgr.Close(context.Background()); err != nil {
			errutil.LogError(logger, "error unloading plugins", err)
		}
	}()

	results, err := mgr.LoadAll(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	ready.Store(true)

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nvimwasm serving plugins")
	logger.InfoContext(ctx, "plugins loaded",
		"dir", opts.cfg.PluginsDir,
		"loaded", len(results)-failed,
		"failed", failed)

	<-ctx.Done()
	logger.Info("shutting down", "cause", context.Cause(ctx))
	return nil
}

// monitorServerErrors cancels ctx when a server reports a failure. It exits
// when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, opts *globalOptions) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		opts.logger.Error("server error, triggering shutdown",
			"server", serverName,
			"error", err)
		cancel()
	case <-ctx.Done():
	}
}
