// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

// Manager discovers plugins and manages their instances.
type Manager struct {
	pluginsDir string
	host       Host
	apiLevel   int
	logger     *slog.Logger
	loaded     map[string]*LoadedPlugin
	mu         sync.RWMutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithAPILevel sets the host API level checked against each manifest's
// api-level constraint. Zero skips the check.
func WithAPILevel(level int) ManagerOption {
	return func(m *Manager) {
		m.apiLevel = level
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a plugin manager loading into host.
func NewManager(pluginsDir string, host Host, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		host:       host,
		logger:     slog.Default(),
		loaded:     make(map[string]*LoadedPlugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// EntryPath is the module file of the plugin.
func (dp *DiscoveredPlugin) EntryPath() string {
	return filepath.Join(dp.Dir, dp.Manifest.Wasm.Entry)
}

// LoadedPlugin is a plugin with a live instance.
type LoadedPlugin struct {
	Manifest   *Manifest
	Dir        string
	InstanceID int32
	LoadedAt   time.Time
}

// Result reports the outcome of loading one plugin.
type Result struct {
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	Dir        string `json:"dir" yaml:"dir"`
	InstanceID int32  `json:"instance_id" yaml:"instance_id"`
	Err        error  `json:"-" yaml:"-"`
}

// Discover finds every valid plugin in the plugins directory, keeping the
// highest version of each name. Invalid plugins are logged and skipped.
func (m *Manager) Discover(ctx context.Context) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	best := make(map[string]*DiscoveredPlugin)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.pluginsDir, entry.Name())
		dp, err := readPlugin(dir)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping plugin",
				"dir", entry.Name(),
				"code", errutil.Code(err),
				"error", err)
			continue
		}

		name := dp.Manifest.Name
		prev, seen := best[name]
		if !seen {
			best[name] = dp
			continue
		}
		keep, drop := prev, dp
		if dp.Manifest.SemVer().GreaterThan(prev.Manifest.SemVer()) {
			keep, drop = dp, prev
		}
		best[name] = keep
		m.logger.InfoContext(ctx, "ignoring superseded plugin version",
			"plugin", name,
			"version", drop.Manifest.Version,
			"dir", drop.Dir,
			"kept_version", keep.Manifest.Version)
	}

	plugins := make([]*DiscoveredPlugin, 0, len(best))
	for _, dp := range best {
		plugins = append(plugins, dp)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Manifest.Name < plugins[j].Manifest.Name })
	return plugins, nil
}

func readPlugin(dir string) (*DiscoveredPlugin, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is built from ReadDir entries
	if err != nil {
		return nil, oops.In("plugin").With("path", path).Wrapf(err, "read manifest")
	}
	if err := ValidateSchema(data); err != nil {
		return nil, oops.In("plugin").With("path", path).Wrap(err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, oops.In("plugin").With("path", path).Wrap(err)
	}
	return &DiscoveredPlugin{Manifest: manifest, Dir: dir}, nil
}

// LoadAll discovers and loads every plugin. A plugin that fails to load is
// logged and reported in its Result; it does not stop the others.
func (m *Manager) LoadAll(ctx context.Context) ([]Result, error) {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(discovered))
	for _, dp := range discovered {
		res := Result{Name: dp.Manifest.Name, Version: dp.Manifest.Version, Dir: dp.Dir, InstanceID: -1}
		lp, err := m.Load(ctx, dp)
		if err != nil {
			errutil.LogErrorContext(ctx, m.logger, "failed to load plugin", err)
			res.Err = err
		} else {
			res.InstanceID = lp.InstanceID
		}
		results = append(results, res)
	}
	return results, nil
}

// Load instantiates one discovered plugin with its capability grants.
func (m *Manager) Load(ctx context.Context, dp *DiscoveredPlugin) (*LoadedPlugin, error) {
	name := dp.Manifest.Name
	b := oops.In("plugin").With("plugin", name).With("version", dp.Manifest.Version)

	m.mu.RLock()
	_, dup := m.loaded[name]
	m.mu.RUnlock()
	if dup {
		return nil, b.Code(errutil.CodeInvalidArgument).Errorf("plugin %s is already loaded", name)
	}

	if m.apiLevel > 0 {
		ok, err := dp.Manifest.SupportsLevel(m.apiLevel)
		if err != nil {
			return nil, b.Wrap(err)
		}
		if !ok {
			return nil, b.Code(errutil.CodeLoadFailed).
				With("api_level", m.apiLevel).
				With("requires", dp.Manifest.APILevel).
				Errorf("plugin %s requires API level %s, host provides %d", name, dp.Manifest.APILevel, m.apiLevel)
		}
	}

	id, err := m.host.Load(ctx, dp.EntryPath(), wasm.AsPlugin(name, dp.Manifest.Capabilities))
	if err != nil {
		return nil, b.Wrap(err)
	}
	if err := m.checkExports(id, dp.Manifest); err != nil {
		if uerr := m.host.Unload(ctx, id); uerr != nil {
			errutil.LogErrorContext(ctx, m.logger, "unloading rejected plugin", uerr)
		}
		return nil, b.Wrap(err)
	}

	lp := &LoadedPlugin{Manifest: dp.Manifest, Dir: dp.Dir, InstanceID: id, LoadedAt: time.Now()}
	m.mu.Lock()
	m.loaded[name] = lp
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "loaded plugin",
		"plugin", name,
		"version", dp.Manifest.Version,
		"instance_id", id)
	return lp, nil
}

// checkExports requires every export the manifest documents.
func (m *Manager) checkExports(id int32, manifest *Manifest) error {
	if len(manifest.Exports) == 0 {
		return nil
	}
	info, err := m.host.Info(id)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(info.Exports))
	for _, e := range info.Exports {
		have[e] = true
	}
	var missing []string
	for _, e := range manifest.Exports {
		if !have[e] {
			missing = append(missing, e)
		}
	}
	if len(missing) > 0 {
		return oops.In("plugin").
			Code(errutil.CodeLoadFailed).
			With("missing", missing).
			Errorf("module does not provide declared exports %v", missing)
	}
	return nil
}

// Get returns a loaded plugin by name.
func (m *Manager) Get(name string) (*LoadedPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lp, ok := m.loaded[name]
	return lp, ok
}

// Call calls export of the named plugin.
func (m *Manager) Call(ctx context.Context, name, export string, args []object.Object) (object.Object, error) {
	lp, ok := m.Get(name)
	if !ok {
		return nil, oops.In("plugin").
			Code(errutil.CodeInstanceNotFound).
			With("plugin", name).
			Errorf("plugin %s is not loaded", name)
	}
	return m.host.CallFunction(ctx, lp.InstanceID, export, args)
}

// ListPlugins returns names of all loaded plugins.
func (m *Manager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unload tears down the named plugin.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	lp, ok := m.loaded[name]
	delete(m.loaded, name)
	m.mu.Unlock()
	if !ok {
		return oops.In("plugin").
			Code(errutil.CodeInstanceNotFound).
			With("plugin", name).
			Errorf("plugin %s is not loaded", name)
	}
	if err := m.host.Unload(ctx, lp.InstanceID); err != nil {
		return oops.In("plugin").With("plugin", name).Wrap(err)
	}
	m.logger.InfoContext(ctx, "unloaded plugin", "plugin", name, "instance_id", lp.InstanceID)
	return nil
}

// Close unloads every plugin.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, name := range m.ListPlugins() {
		if err := m.Unload(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
