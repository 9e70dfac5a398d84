// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package apimodel

// Param is a declared argument. Implicit arguments (channel id, arena,
// error out-parameter) never appear as Params.
type Param struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// WitName is the boundary name of the parameter.
func (p Param) WitName() string { return WitName(p.Name) }

// Return describes a function result. Type is nil for void functions.
type Return struct {
	Type     *Type `json:"type,omitempty" yaml:"type,omitempty"`
	HasError bool  `json:"has_error" yaml:"has_error"`
}

// Attrs are the FUNC_API_* attributes of a declaration.
type Attrs struct {
	Since         *int32 `json:"since,omitempty" yaml:"since,omitempty"`
	Fast          bool   `json:"fast,omitempty" yaml:"fast,omitempty"`
	RemoteOnly    bool   `json:"remote_only,omitempty" yaml:"remote_only,omitempty"`
	CheckTextLock bool   `json:"check_text_lock,omitempty" yaml:"check_text_lock,omitempty"`
}

// Func is one host API function.
//
// HasChannelID means the native function takes a caller identity token ahead
// of its declared parameters. HasArena means it takes a scratch allocation
// region after them, and a composite result lives in that region.
type Func struct {
	Name         string  `json:"name" yaml:"name"`
	Params       []Param `json:"params" yaml:"params"`
	HasChannelID bool    `json:"has_channel_id" yaml:"has_channel_id"`
	HasArena     bool    `json:"has_arena" yaml:"has_arena"`
	Return       Return  `json:"return" yaml:"return"`
	Attrs        Attrs   `json:"attrs" yaml:"attrs"`
}

// WitName is the boundary name of the function.
func (f *Func) WitName() string { return WitName(f.Name) }

// HasError reports whether the function can fail.
func (f *Func) HasError() bool { return f.Return.HasError }

// IsVoid reports whether the function returns nothing.
func (f *Func) IsVoid() bool { return f.Return.Type == nil }

// Since returns the API level that introduced the function, or 0.
func (f *Func) Since() int32 {
	if f.Attrs.Since == nil {
		return 0
	}
	return *f.Attrs.Since
}
