// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package apimodel is the canonical, format-agnostic model of the host API:
// functions, their parameters and results, value types, and keysets
// (dictionaries with a fixed set of keys).
//
// A model is built once from parsed declarations and never mutated.
package apimodel

import "fmt"

// Kind enumerates the value types a declaration can name.
type Kind uint8

// Kinds, spelled as they appear in declarations.
const (
	KindObject Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindString
	KindArray
	KindDictionary
	KindKeyset
	KindBuffer
	KindWindow
	KindTabpage
	KindLuaRef
)

var kindNames = [...]string{
	KindObject:     "Object",
	KindBoolean:    "Boolean",
	KindInteger:    "Integer",
	KindFloat:      "Float",
	KindString:     "String",
	KindArray:      "Array",
	KindDictionary: "Dictionary",
	KindKeyset:     "Dict",
	KindBuffer:     "Buffer",
	KindWindow:     "Window",
	KindTabpage:    "Tabpage",
	KindLuaRef:     "LuaRef",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsHandle reports whether k is one of the buffer/window/tabpage handle kinds.
func (k Kind) IsHandle() bool {
	return k == KindBuffer || k == KindWindow || k == KindTabpage
}

// Type is a declared value type. Elem is the advisory element (Array) or
// value (Dictionary) hint; storage is always a sequence of Objects. Keyset is
// set only for KindKeyset.
type Type struct {
	Kind   Kind
	Elem   *Type
	Keyset *Keyset
}

// Convenience constructors for the simple types.
var (
	Boolean    = Type{Kind: KindBoolean}
	Integer    = Type{Kind: KindInteger}
	Float      = Type{Kind: KindFloat}
	String     = Type{Kind: KindString}
	Array      = Type{Kind: KindArray}
	Dictionary = Type{Kind: KindDictionary}
	Buffer     = Type{Kind: KindBuffer}
	Window     = Type{Kind: KindWindow}
	Tabpage    = Type{Kind: KindTabpage}
	LuaRef     = Type{Kind: KindLuaRef}
	Object     = Type{Kind: KindObject}
)

var simpleTypes = map[string]Type{
	"Boolean":    Boolean,
	"Integer":    Integer,
	"Float":      Float,
	"String":     String,
	"Array":      Array,
	"Dictionary": Dictionary,
	"LuaRef":     LuaRef,
	"Buffer":     Buffer,
	"Window":     Window,
	"Tabpage":    Tabpage,
	"Object":     Object,
}

// SimpleType resolves a bare type name such as "Integer" or "Tabpage".
func SimpleType(name string) (Type, bool) {
	t, ok := simpleTypes[name]
	return t, ok
}

// ArrayOf returns an Array type hinting elem as its element type.
func ArrayOf(elem Type) Type {
	return Type{Kind: KindArray, Elem: &elem}
}

// DictionaryOf returns a Dictionary type hinting elem as its value type.
func DictionaryOf(elem Type) Type {
	return Type{Kind: KindDictionary, Elem: &elem}
}

// KeysetOf returns the type of an argument declared as Dict(k.Name).
func KeysetOf(k *Keyset) Type {
	return Type{Kind: KindKeyset, Keyset: k}
}

// String renders the type in declaration syntax.
func (t Type) String() string {
	switch {
	case t.Kind == KindKeyset && t.Keyset != nil:
		return "Dict(" + t.Keyset.Name + ")"
	case t.Kind == KindArray && t.Elem != nil:
		return "ArrayOf(" + t.Elem.String() + ")"
	case t.Kind == KindDictionary && t.Elem != nil:
		return "DictionaryOf(" + t.Elem.String() + ")"
	default:
		return t.Kind.String()
	}
}

// MarshalText renders the type for YAML and JSON output.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Equal compares types structurally; keysets compare by name.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	if (t.Elem == nil) != (o.Elem == nil) {
		return false
	}
	if t.Elem != nil && !t.Elem.Equal(*o.Elem) {
		return false
	}
	if t.Kind == KindKeyset {
		return t.Keyset != nil && o.Keyset != nil && t.Keyset.Name == o.Keyset.Name
	}
	return true
}
