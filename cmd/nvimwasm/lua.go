// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	pluginlua "github.com/holomush/nvimwasm/internal/plugin/lua"
	"github.com/holomush/nvimwasm/internal/wasm"
)

func newLuaCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lua SCRIPT",
		Short: "Run a Lua script that drives plugins",
		Long: `Run SCRIPT in a sandboxed Lua state. The global "wasm" module loads
modules (wasm.load), calls their exports (wasm.call) and unloads them
(wasm.unload). Callbacks returned by a plugin have :call, :call_named and
:drop methods.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLua(cmd.Context(), opts, args[0])
		},
	}
}

func runLua(ctx context.Context, opts *globalOptions, script string) (err error) {
	rt, _, err := opts.newRuntime(ctx, wasm.New)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.Close(context.WithoutCancel(ctx))) }()

	bridge, err := pluginlua.NewBridge(ctx, pluginlua.NewStateFactory(), rt,
		pluginlua.WithBridgeLogger(opts.logger.With("script", script)))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, bridge.Close(context.WithoutCancel(ctx))) }()

	return bridge.DoFile(script)
}
