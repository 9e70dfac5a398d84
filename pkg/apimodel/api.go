// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package apimodel

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// API is a complete, immutable model: every keyset and every function that
// parsed successfully.
type API struct {
	keysets KeysetIndex
	kOrder  []*Keyset
	funcs   []*Func
	byName  map[string]*Func
}

// New builds an API from parsed keysets and functions. The slices must not be
// modified afterwards.
func New(keysets []*Keyset, funcs []*Func) *API {
	byName := make(map[string]*Func, len(funcs))
	for _, f := range funcs {
		byName[f.Name] = f
	}
	return &API{
		keysets: IndexKeysets(keysets),
		kOrder:  keysets,
		funcs:   funcs,
		byName:  byName,
	}
}

// Funcs returns the functions in declaration order.
func (a *API) Funcs() []*Func {
	out := make([]*Func, len(a.funcs))
	copy(out, a.funcs)
	return out
}

// Keysets returns the keysets in declaration order.
func (a *API) Keysets() []*Keyset {
	out := make([]*Keyset, len(a.kOrder))
	copy(out, a.kOrder)
	return out
}

// Func looks up a function by its declared name.
func (a *API) Func(name string) (*Func, bool) {
	f, ok := a.byName[name]
	return f, ok
}

// Keyset looks up a keyset by name.
func (a *API) Keyset(name string) (*Keyset, bool) {
	return a.keysets.Lookup(name)
}

// Level is the highest FUNC_API_SINCE among all functions.
func (a *API) Level() int32 {
	var level int32
	for _, f := range a.funcs {
		if s := f.Since(); s > level {
			level = s
		}
	}
	return level
}

// Filter returns the functions whose names match a glob pattern, with '_'
// as the segment separator: "nvim_buf_*" matches "nvim_buf_attach" but not
// "nvim_buf_get_lines"; "nvim_buf_**" matches both.
func (a *API) Filter(pattern string) ([]*Func, error) {
	g, err := glob.Compile(pattern, '_')
	if err != nil {
		return nil, oops.In("apimodel").With("pattern", pattern).Wrap(err)
	}
	var out []*Func
	for _, f := range a.funcs {
		if g.Match(f.Name) {
			out = append(out, f)
		}
	}
	return out, nil
}
