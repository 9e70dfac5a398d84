// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/nvimwasm/internal/plugin"
	"github.com/holomush/nvimwasm/internal/wasm/wasmtest"
	"github.com/holomush/nvimwasm/pkg/errutil"
)

// pluginsDir installs a working "greeter" plugin and a "broken" plugin whose
// entry module is missing.
func pluginsDir(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "plugins")

	install := func(name, manifest string, g *wasmtest.Guest) {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o600))
		if g != nil {
			writeModule(t, dir, "module", g)
		}
	}
	install("greeter", "name: greeter\nversion: 1.2.0\nexports: [echo]\nwasm:\n  entry: module.wasm\n",
		wasmtest.NewGuest().Echo("echo"))
	install("broken", "name: broken\nversion: 0.1.0\nwasm:\n  entry: module.wasm\n", nil)
	return root
}

func TestPlugins_Table(t *testing.T) {
	isolate(t)
	dir := pluginsDir(t)

	out, err := execute(t, context.Background(), "plugins", "--dir", dir)
	require.NoError(t, err)

	assert.Regexp(t, `NAME\s+VERSION\s+STATUS\s+INSTANCE`, out)
	assert.Regexp(t, `greeter\s+1\.2\.0\s+loaded\s+\d+`, out)
	assert.Regexp(t, `broken\s+0\.1\.0\s+failed: `+errutil.CodeLoadFailed+`\s+-`, out)
}

func TestPlugins_JSON(t *testing.T) {
	isolate(t)
	dir := pluginsDir(t)

	out, err := execute(t, context.Background(), "--plugins-dir", dir, "plugins", "--format", "json")
	require.NoError(t, err)

	var got []PluginStatus
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "broken", got[0].Name)
	assert.False(t, got[0].Loaded)
	assert.Equal(t, errutil.CodeLoadFailed, got[0].Code)
	assert.NotEmpty(t, got[0].Error)

	assert.Equal(t, "greeter", got[1].Name)
	assert.True(t, got[1].Loaded)
	assert.GreaterOrEqual(t, got[1].InstanceID, int32(0))
	assert.Empty(t, got[1].Code)
}

func TestPlugins_EmptyDirectory(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, "nothing-here")

	out, err := execute(t, context.Background(), "plugins", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "no plugins found in "+dir+"\n", out)
}
