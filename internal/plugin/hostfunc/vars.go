// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostfunc

import (
	"context"
	"sync"

	"github.com/holomush/nvimwasm/internal/convert"
	"github.com/holomush/nvimwasm/pkg/object"
)

// VarStore holds editor variables by scope ("g" for globals).
//
// Values handed to Set are borrowed; a store keeping callbacks must Clone
// them. Values returned by Get belong to the caller.
type VarStore interface {
	Get(ctx context.Context, scope, name string) (object.Object, bool, error)
	Set(ctx context.Context, scope, name string, value object.Object) error
	Delete(ctx context.Context, scope, name string) (bool, error)
}

// MemoryVars is an in-process VarStore.
type MemoryVars struct {
	mu   sync.Mutex
	vars map[string]map[string]object.Object
}

// NewMemoryVars creates an empty store.
func NewMemoryVars() *MemoryVars {
	return &MemoryVars{vars: make(map[string]map[string]object.Object)}
}

// Get returns a retained copy of the value.
func (m *MemoryVars) Get(_ context.Context, scope, name string) (object.Object, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[scope][name]
	if !ok {
		return nil, false, nil
	}
	return retain(v), true, nil
}

// Set stores a retained copy of value, dropping the one it replaces.
func (m *MemoryVars) Set(ctx context.Context, scope, name string, value object.Object) error {
	m.mu.Lock()
	vars, ok := m.vars[scope]
	if !ok {
		vars = make(map[string]object.Object)
		m.vars[scope] = vars
	}
	old, hadOld := vars[name]
	vars[name] = retain(value)
	m.mu.Unlock()

	if hadOld {
		return convert.Drop(ctx, old)
	}
	return nil
}

// Delete removes the value and drops it.
func (m *MemoryVars) Delete(ctx context.Context, scope, name string) (bool, error) {
	m.mu.Lock()
	old, ok := m.vars[scope][name]
	delete(m.vars[scope], name)
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, convert.Drop(ctx, old)
}

// retain deep-copies containers and clones callback handles.
func retain(o object.Object) object.Object {
	switch v := o.(type) {
	case object.Callback:
		return object.Callback{Handle: v.Handle.Clone()}
	case object.Array:
		out := make(object.Array, len(v))
		for i, e := range v {
			out[i] = retain(e)
		}
		return out
	case object.Dictionary:
		out := make(object.Dictionary, len(v))
		for i, kv := range v {
			out[i] = object.KeyValue{Key: kv.Key, Value: retain(kv.Value)}
		}
		return out
	case nil:
		return object.Nil{}
	default:
		return o
	}
}
