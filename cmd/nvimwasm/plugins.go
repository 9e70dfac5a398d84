// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/holomush/nvimwasm/internal/plugin"
	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// pluginsConfig holds configuration for the plugins command.
type pluginsConfig struct {
	dir    string
	format string
}

// PluginStatus is one row of the plugins report.
type PluginStatus struct {
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	Dir        string `json:"dir" yaml:"dir"`
	Loaded     bool   `json:"loaded" yaml:"loaded"`
	InstanceID int32  `json:"instance_id" yaml:"instance_id"`
	Code       string `json:"code,omitempty" yaml:"code,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newPluginsCmd(opts *globalOptions) *cobra.Command {
	cfg := &pluginsConfig{}

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Discover, validate and load plugins",
		Long: `Discover the plugins in the plugins directory, validate their
manifests, load each with its declared capabilities and report the status
of every plugin. Plugins that fail do not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlugins(cmd, opts, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.dir, "dir", "", "plugins directory (default: the plugins-dir setting)")
	cmd.Flags().StringVar(&cfg.format, "format", formatTable, "output format (table, yaml or json)")

	return cmd
}

func runPlugins(cmd *cobra.Command, opts *globalOptions, cfg *pluginsConfig) (err error) {
	ctx := cmd.Context()
	dir := cfg.dir
	if dir == "" {
		dir = opts.cfg.PluginsDir
	}

	rt, api, err := opts.newRuntime(ctx, wasm.New)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.Close(context.WithoutCancel(ctx))) }()

	mgr := plugin.NewManager(dir, rt,
		plugin.WithAPILevel(int(api.Level())),
		plugin.WithLogger(opts.logger))
	defer func() { err = errors.Join(err, mgr.Close(context.WithoutCancel(ctx))) }()

	results, err := mgr.LoadAll(ctx)
	if err != nil {
		return err
	}

	statuses := pluginStatuses(results)
	if cfg.format == formatTable {
		return writePluginTable(cmd.OutOrStdout(), dir, statuses)
	}
	return writeFormatted(cmd.OutOrStdout(), cfg.format, statuses)
}

func pluginStatuses(results []plugin.Result) []PluginStatus {
	statuses := make([]PluginStatus, 0, len(results))
	for _, r := range results {
		s := PluginStatus{
			Name:       r.Name,
			Version:    r.Version,
			Dir:        r.Dir,
			Loaded:     r.Err == nil,
			InstanceID: r.InstanceID,
		}
		if r.Err != nil {
			s.Code = errutil.Code(r.Err)
			s.Error = r.Err.Error()
		}
		statuses = append(statuses, s)
	}
	return statuses
}

func writePluginTable(w io.Writer, dir string, statuses []PluginStatus) error {
	if len(statuses) == 0 {
		_, err := fmt.Fprintf(w, "no plugins found in %s\n", dir)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tINSTANCE")
	for _, s := range statuses {
		status, instance := "loaded", fmt.Sprint(s.InstanceID)
		if !s.Loaded {
			status, instance = "failed: "+s.Code, "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Version, status, instance)
	}
	return tw.Flush()
}
