// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/nvimwasm/internal/decl"
	"github.com/holomush/nvimwasm/pkg/apimodel"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// apisConfig holds configuration for the apis command.
type apisConfig struct {
	filter string
	format string
	strict bool
}

// skippedLine is a declaration line that did not parse, as printed.
type skippedLine struct {
	Source string `json:"source" yaml:"source"`
	Line   int    `json:"line" yaml:"line"`
	Text   string `json:"text" yaml:"text"`
	Code   string `json:"code,omitempty" yaml:"code,omitempty"`
	Error  string `json:"error" yaml:"error"`
}

type apisOutput struct {
	Level     int32            `json:"level" yaml:"level"`
	Functions []*apimodel.Func `json:"functions" yaml:"functions"`
	Skipped   []skippedLine    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func newApisCmd(opts *globalOptions) *cobra.Command {
	cfg := &apisConfig{}

	cmd := &cobra.Command{
		Use:   "apis",
		Short: "Print the parsed host API functions",
		Long: `Parse the embedded declaration headers and print every host API
function with its parameters, return type and attributes. Lines that look
like declarations but do not parse are listed under "skipped".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApis(cmd, opts, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.filter, "filter", "", "only functions matching this glob ('_' separates segments, '**' crosses them)")
	cmd.Flags().StringVar(&cfg.format, "format", formatYAML, "output format (yaml or json)")
	cmd.Flags().BoolVar(&cfg.strict, "strict", false, "fail on the first declaration that does not parse")

	return cmd
}

func runApis(cmd *cobra.Command, opts *globalOptions, cfg *apisConfig) error {
	api, report, err := opts.loadAPI(cmd.Context(), cfg.strict)
	if err != nil {
		return err
	}

	funcs := api.Funcs()
	if cfg.filter != "" {
		if funcs, err = api.Filter(cfg.filter); err != nil {
			return err
		}
	}

	out := apisOutput{Level: api.Level(), Functions: funcs, Skipped: skippedLines(report)}
	return writeFormatted(cmd.OutOrStdout(), cfg.format, out)
}

func skippedLines(report *decl.Report) []skippedLine {
	lines := make([]skippedLine, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		lines = append(lines, skippedLine{
			Source: s.Source,
			Line:   s.Line,
			Text:   s.Text,
			Code:   errutil.Code(s.Err),
			Error:  s.Err.Error(),
		})
	}
	return lines
}

func newKeysetsCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "keysets",
		Short: "Print the parsed keysets",
		Long:  `Print every keyset declared in the embedded headers with its fields in declaration order.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, _, err := opts.loadAPI(cmd.Context(), false)
			if err != nil {
				return err
			}
			return writeFormatted(cmd.OutOrStdout(), format, api.Keysets())
		},
	}

	cmd.Flags().StringVar(&format, "format", formatYAML, "output format (yaml or json)")
	return cmd
}
