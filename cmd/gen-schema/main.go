// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the JSON Schema for plugin manifests.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/holomush/nvimwasm/internal/plugin"
)

func main() {
	out := pflag.StringP("output", "o", filepath.Join("schemas", "plugin.schema.json"), "schema file to write")
	check := pflag.Bool("check", false, "fail if the file on disk differs instead of writing it")
	pflag.Parse()

	if err := run(*out, *check); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(outPath string, check bool) error {
	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	if check {
		current, err := os.ReadFile(outPath) //nolint:gosec // path comes from the command line
		if err != nil {
			return fmt.Errorf("reading %s: %w", outPath, err)
		}
		if string(current) != string(schema) {
			return fmt.Errorf("%s is out of date; run gen-schema", outPath)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	fmt.Printf("Generated %s\n", outPath)
	return nil
}
