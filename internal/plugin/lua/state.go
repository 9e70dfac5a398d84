// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua embeds a sandboxed Lua interpreter with a "wasm" module for
// loading plugin modules, calling their exports and handling the callbacks
// they return.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Default limits of a scripting state.
const (
	DefaultCallStackSize   = 256
	DefaultRegistryMaxSize = 256 * 1024
)

type library struct {
	name string
	open lua.LGFunction
}

// sandboxLibraries are the only libraries a scripting state opens. os, io,
// debug, package and coroutine stay closed.
var sandboxLibraries = []library{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedGlobals are base functions that read files or compile chunks.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states for scripts that drive plugins.
type StateFactory struct {
	libraries       []library
	callStackSize   int
	registryMaxSize int
}

// StateOption configures a StateFactory.
type StateOption func(*StateFactory)

// WithCallStackSize bounds Lua call depth, so runaway recursion in a script
// fails instead of exhausting memory.
func WithCallStackSize(n int) StateOption {
	return func(f *StateFactory) { f.callStackSize = n }
}

// WithRegistryMaxSize bounds the Lua value stack (registry) of each state.
func WithRegistryMaxSize(n int) StateOption {
	return func(f *StateFactory) { f.registryMaxSize = n }
}

// NewStateFactory creates a factory with the sandbox libraries and default
// limits.
func NewStateFactory(opts ...StateOption) *StateFactory {
	f := &StateFactory{
		libraries:       sandboxLibraries,
		callStackSize:   DefaultCallStackSize,
		registryMaxSize: DefaultRegistryMaxSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState returns a fresh state bound to ctx: cancelling ctx stops a
// running script.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.callStackSize,
		RegistrySize:        min(1024*20, f.registryMaxSize),
		RegistryMaxSize:     f.registryMaxSize,
		MinimizeStackMemory: true,
	})

	for _, lib := range f.libraries {
		err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), Protect: true}, lua.LString(lib.name))
		if err != nil {
			L.Close()
			return nil, oops.In("lua").
				With("library", lib.name).
				Wrapf(err, "open library %s", lib.name)
		}
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetContext(ctx)
	return L, nil
}
