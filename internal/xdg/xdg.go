// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory paths for nvimwasm.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "nvimwasm"

func dir(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.In("xdg").With("env", env).Wrapf(err, "resolve home directory")
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/nvimwasm, falling back to
// ~/.config/nvimwasm.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/nvimwasm, falling back to
// ~/.local/share/nvimwasm. Plugins are discovered under it by default.
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// CacheDir returns $XDG_CACHE_HOME/nvimwasm, falling back to
// ~/.cache/nvimwasm. It holds the compilation cache.
func CacheDir() (string, error) {
	return dir("XDG_CACHE_HOME", ".cache")
}

// ConfigFile is the default configuration file path.
func ConfigFile() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config.yaml"), nil
}

// PluginsDir is the default plugin discovery directory.
func PluginsDir() (string, error) {
	d, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "plugins"), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
