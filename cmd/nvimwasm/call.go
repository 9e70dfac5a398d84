// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/nvimwasm/internal/convert"
	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

func newCallCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "call FILE EXPORT [JSON-ARGS...]",
		Short: "Load a module and call one of its exports",
		Long: `Load the WebAssembly module FILE with every capability granted, call
EXPORT with the given arguments and print the result. Each argument is a
JSON value; integral numbers are passed as Integer.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseJSONArgs(args[2:])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, _, err := opts.newRuntime(ctx, wasm.New)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

			result, err := callExport(ctx, rt, args[0], args[1], callArgs)
			if err != nil {
				return err
			}
			return writeFormatted(cmd.OutOrStdout(), format, result)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatJSON, "output format (yaml or json)")
	return cmd
}

// callExport loads path, calls export and returns the result as plain Go
// values. Callbacks in the result are released after conversion.
func callExport(ctx context.Context, rt *wasm.Runtime, path, export string, args []object.Object) (any, error) {
	id, err := rt.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := rt.CallFunction(ctx, id, export, args)
	if err != nil {
		return nil, err
	}
	defer convert.Release(ctx, result)
	return object.ToGo(result), nil
}

// parseJSONArgs decodes each argument as one JSON value.
func parseJSONArgs(raw []string) ([]object.Object, error) {
	args := make([]object.Object, 0, len(raw))
	for i, s := range raw {
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, oops.In("cli").
				Code(errutil.CodeInvalidArgument).
				With("arg", i+1).
				Wrapf(err, "argument %d is not JSON", i+1)
		}
		if dec.More() {
			return nil, oops.In("cli").
				Code(errutil.CodeInvalidArgument).
				With("arg", i+1).
				Errorf("argument %d holds more than one JSON value", i+1)
		}
		o, err := object.FromGo(v)
		if err != nil {
			return nil, err
		}
		args = append(args, o)
	}
	return args, nil
}
