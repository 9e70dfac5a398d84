// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package convert

import (
	"context"

	"github.com/holomush/nvimwasm/pkg/object"
)

// Release is Drop for cleanup paths that have no use for the error.
func Release(ctx context.Context, objs ...object.Object) {
	_ = Drop(ctx, objs...)
}

// Drop drops every callback handle reachable from objs and returns the first
// notification error.
func Drop(ctx context.Context, objs ...object.Object) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, o := range objs {
		switch v := o.(type) {
		case object.Callback:
			keep(v.Handle.Drop(ctx))
		case object.Array:
			keep(Drop(ctx, v...))
		case object.Dictionary:
			for _, kv := range v {
				keep(Drop(ctx, kv.Value))
			}
		}
	}
	return first
}
