// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	luavm "github.com/yuin/gopher-lua"
)

func TestNewState_LibraryOpenFailure(t *testing.T) {
	factory := NewStateFactory()
	factory.libraries = []library{{"broken", func(L *luavm.LState) int {
		L.RaiseError("cannot open")
		return 0
	}}}

	_, err := factory.NewState(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open library broken")
}

func TestSandboxLibraries(t *testing.T) {
	var names []string
	for _, lib := range sandboxLibraries {
		names = append(names, lib.name)
	}
	assert.ElementsMatch(t, []string{
		luavm.BaseLibName, luavm.TabLibName, luavm.StringLibName, luavm.MathLibName,
	}, names)
}

func TestNewStateFactory_Options(t *testing.T) {
	f := NewStateFactory()
	assert.Equal(t, DefaultCallStackSize, f.callStackSize)
	assert.Equal(t, DefaultRegistryMaxSize, f.registryMaxSize)

	f = NewStateFactory(WithCallStackSize(32), WithRegistryMaxSize(4096))
	assert.Equal(t, 32, f.callStackSize)
	assert.Equal(t, 4096, f.registryMaxSize)
}
