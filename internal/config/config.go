// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads nvimwasm settings: built-in defaults, then an
// optional YAML file, then command-line flags.
package config

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/nvimwasm/internal/xdg"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// Config holds runtime and CLI settings.
type Config struct {
	LogFormat        string        `koanf:"log-format" validate:"oneof=json text"`
	LogLevel         string        `koanf:"log-level" validate:"oneof=debug info warn error"`
	PluginsDir       string        `koanf:"plugins-dir"`
	CacheDir         string        `koanf:"cache-dir"`
	MemoryLimitPages uint32        `koanf:"memory-limit-pages" validate:"min=1,max=65536"`
	CallTimeout      time.Duration `koanf:"call-timeout" validate:"min=0"`
	MaxInstances     int64         `koanf:"max-instances" validate:"min=1,max=2147483647"`
	MetricsAddr      string        `koanf:"metrics-addr" validate:"omitempty,hostname_port"`
	StrictDecls      bool          `koanf:"strict-decls"`
}

// Keys, also used as flag names.
const (
	KeyLogFormat        = "log-format"
	KeyLogLevel         = "log-level"
	KeyPluginsDir       = "plugins-dir"
	KeyCacheDir         = "cache-dir"
	KeyMemoryLimitPages = "memory-limit-pages"
	KeyCallTimeout      = "call-timeout"
	KeyMaxInstances     = "max-instances"
	KeyMetricsAddr      = "metrics-addr"
	KeyStrictDecls      = "strict-decls"
)

// Defaults returns the built-in settings. Directory defaults are left empty
// when the home directory cannot be resolved.
func Defaults() Config {
	plugins, _ := xdg.PluginsDir()
	cache, _ := xdg.CacheDir()
	return Config{
		LogFormat:        "text",
		LogLevel:         "info",
		PluginsDir:       plugins,
		CacheDir:         cache,
		MemoryLimitPages: 256,
		CallTimeout:      0,
		MaxInstances:     math.MaxInt32,
	}
}

// RegisterFlags adds one flag per key to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String(KeyLogFormat, d.LogFormat, "log format (json or text)")
	fs.String(KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	fs.String(KeyPluginsDir, d.PluginsDir, "plugin discovery directory")
	fs.String(KeyCacheDir, d.CacheDir, "compilation cache directory (empty = no cache)")
	fs.Uint32(KeyMemoryLimitPages, d.MemoryLimitPages, "per-instance memory limit in 64KiB pages")
	fs.Duration(KeyCallTimeout, d.CallTimeout, "guest call timeout (0 = none)")
	fs.Int64(KeyMaxInstances, d.MaxInstances, "maximum simultaneously loaded instances")
	fs.String(KeyMetricsAddr, d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.Bool(KeyStrictDecls, d.StrictDecls, "fail on declaration lines that cannot be parsed")
}

func defaultValues(d Config) map[string]any {
	return map[string]any{
		KeyLogFormat:        d.LogFormat,
		KeyLogLevel:         d.LogLevel,
		KeyPluginsDir:       d.PluginsDir,
		KeyCacheDir:         d.CacheDir,
		KeyMemoryLimitPages: d.MemoryLimitPages,
		KeyCallTimeout:      d.CallTimeout.String(),
		KeyMaxInstances:     d.MaxInstances,
		KeyMetricsAddr:      d.MetricsAddr,
		KeyStrictDecls:      d.StrictDecls,
	}
}

// Load resolves the configuration. An empty path means the default config
// file, which may be absent; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaultValues(Defaults()) {
		if err := k.Set(key, v); err != nil {
			return nil, oops.In("config").With("key", key).Wrapf(err, "set default")
		}
	}

	explicit := path != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		_, statErr := os.Stat(path)
		switch {
		case statErr == nil:
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.In("config").
					Code(errutil.CodeInvalidArgument).
					With("path", path).
					Wrapf(err, "read config file")
			}
		case explicit || !errors.Is(statErr, fs.ErrNotExist):
			return nil, oops.In("config").With("path", path).Wrapf(statErr, "open config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "read flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code(errutil.CodeInvalidArgument).Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("koanf")
	})
	return v
}()

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return oops.In("config").Wrap(err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return oops.In("config").
		Code(errutil.CodeInvalidArgument).
		With("fields", fields).
		Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}
