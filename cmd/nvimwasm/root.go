// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/nvimwasm/internal/config"
	"github.com/holomush/nvimwasm/internal/logging"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

const serviceName = "nvimwasm"

// globalOptions is what every subcommand sees once the root has resolved
// the configuration.
type globalOptions struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCmd creates the root command for the nvimwasm CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "nvimwasm",
		Short: "Host API declarations and WebAssembly plugins",
		Long: `nvimwasm parses the host API declaration headers and runs
WebAssembly plugins against them: load modules, call their exports,
drive them from Lua scripts, or serve a plugin directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/nvimwasm/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newApisCmd(opts))
	cmd.AddCommand(newKeysetsCmd(opts))
	cmd.AddCommand(newCallCmd(opts))
	cmd.AddCommand(newLuaCmd(opts))
	cmd.AddCommand(newPluginsCmd(opts))
	cmd.AddCommand(newServeCmd(opts))

	return cmd
}

// setup loads the configuration and builds the logger.
func (o *globalOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logging.Setup(serviceName, version, cfg.LogFormat, cmd.ErrOrStderr(), logging.WithLevel(level))
	return nil
}

// Output formats accepted by --format.
const (
	formatYAML  = "yaml"
	formatJSON  = "json"
	formatTable = "table"
)

// writeFormatted encodes v to w as YAML or JSON.
func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return oops.In("cli").Wrapf(err, "encode yaml")
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return oops.In("cli").Wrapf(err, "encode json")
		}
		return nil
	default:
		return unknownFormat(format)
	}
}

func unknownFormat(format string) error {
	return oops.In("cli").
		Code(errutil.CodeInvalidArgument).
		With("format", format).
		Errorf("unknown output format %q", format)
}
