// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/nvimwasm/internal/plugin/capability"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// ManifestFile is the manifest name looked for in each plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name         string     `yaml:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string     `yaml:"version" jsonschema:"minLength=1"`
	Description  string     `yaml:"description,omitempty"`
	APILevel     string     `yaml:"api-level,omitempty" jsonschema:"description=Constraint over the host API level such as >= 11"`
	Capabilities []string   `yaml:"capabilities,omitempty" jsonschema:"description=Glob patterns over underscore-separated API function names"`
	Exports      []string   `yaml:"exports,omitempty" jsonschema:"description=Callable exports the module must provide"`
	Wasm         WasmConfig `yaml:"wasm"`
}

// WasmConfig locates the module of a plugin.
type WasmConfig struct {
	Entry string `yaml:"entry" jsonschema:"minLength=1"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

func invalidManifest(name string) oops.OopsErrorBuilder {
	return oops.In("plugin").Code(errutil.CodeInvalidArgument).With("plugin", name)
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, invalidManifest("").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, invalidManifest("").Wrapf(err, "invalid YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return invalidManifest(m.Name).
			Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return invalidManifest(m.Name).
			Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return invalidManifest(m.Name).Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return invalidManifest(m.Name).With("version", m.Version).Wrapf(err, "version is not semver")
	}

	if m.APILevel != "" {
		if _, err := semver.NewConstraint(m.APILevel); err != nil {
			return invalidManifest(m.Name).With("api_level", m.APILevel).Wrapf(err, "api-level is not a version constraint")
		}
	}

	if m.Wasm.Entry == "" {
		return invalidManifest(m.Name).Errorf("wasm.entry is required")
	}
	if !filepath.IsLocal(m.Wasm.Entry) {
		return invalidManifest(m.Name).With("entry", m.Wasm.Entry).
			Errorf("wasm.entry must be a relative path inside the plugin directory")
	}

	if err := capability.Compile(m.Capabilities); err != nil {
		return oops.In("plugin").With("plugin", m.Name).Wrapf(err, "capabilities")
	}
	for i, name := range m.Exports {
		if name == "" {
			return invalidManifest(m.Name).With("index", i).Errorf("exports[%d] is empty", i)
		}
	}
	return nil
}

// SemVer returns the parsed version. The manifest must have been validated.
func (m *Manifest) SemVer() *semver.Version {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return &semver.Version{}
	}
	return v
}

// SupportsLevel reports whether the host API level satisfies the
// manifest's api-level constraint. A manifest without one supports every
// level.
func (m *Manifest) SupportsLevel(level int) (bool, error) {
	if m.APILevel == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(m.APILevel)
	if err != nil {
		return false, invalidManifest(m.Name).With("api_level", m.APILevel).Wrap(err)
	}
	v, err := semver.NewVersion(strconv.Itoa(level))
	if err != nil {
		return false, oops.In("plugin").With("level", level).Wrap(err)
	}
	return c.Check(v), nil
}
