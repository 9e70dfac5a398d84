// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/nvimwasm/pkg/object"
)

// Refs holds Lua values that were handed to the host as LuaRef objects.
// Like the state it belongs to, it is not safe for concurrent use.
type Refs struct {
	next   int
	values map[int]lua.LValue
}

// NewRefs returns an empty ref table. Reference numbers start at 1.
func NewRefs() *Refs {
	return &Refs{values: make(map[int]lua.LValue)}
}

// Ref stores v and returns its reference.
func (r *Refs) Ref(v lua.LValue) object.LuaRef {
	r.next++
	r.values[r.next] = v
	return object.LuaRef(r.next)
}

// Get returns the value behind ref.
func (r *Refs) Get(ref object.LuaRef) (lua.LValue, bool) {
	v, ok := r.values[int(ref)]
	return v, ok
}

// Unref forgets refs. Unknown references are ignored.
func (r *Refs) Unref(refs ...object.LuaRef) {
	for _, ref := range refs {
		delete(r.values, int(ref))
	}
}

// Len returns the number of live references.
func (r *Refs) Len() int {
	return len(r.values)
}
