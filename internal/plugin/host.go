// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin discovers plugin manifests and loads their modules into
// the plugin runtime.
package plugin

import (
	"context"

	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/pkg/object"
)

// Host is the part of the plugin runtime the manager drives.
// *wasm.Runtime implements it.
type Host interface {
	// Load instantiates the module at path.
	Load(ctx context.Context, path string, opts ...wasm.LoadOption) (int32, error)

	// Unload tears down an instance.
	Unload(ctx context.Context, id int32) error

	// Info describes a loaded instance.
	Info(id int32) (wasm.InstanceInfo, error)

	// CallFunction calls an export of a loaded instance.
	CallFunction(ctx context.Context, id int32, name string, args []object.Object) (object.Object, error)
}

var _ Host = (*wasm.Runtime)(nil)
