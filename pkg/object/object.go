// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package object is the host's dynamically typed value model: the values host
// API functions accept and return, and what plugin calls exchange with the
// embedding process.
package object

import (
	"fmt"

	"github.com/holomush/nvimwasm/pkg/callback"
)

// Type identifies the dynamic type of an Object.
type Type uint8

// Object types.
const (
	TypeNil Type = iota
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeString
	TypeArray
	TypeDictionary
	TypeBuffer
	TypeWindow
	TypeTabpage
	TypeLuaRef
	TypeCallback
)

var typeNames = [...]string{
	TypeNil:        "Nil",
	TypeBoolean:    "Boolean",
	TypeInteger:    "Integer",
	TypeFloat:      "Float",
	TypeString:     "String",
	TypeArray:      "Array",
	TypeDictionary: "Dictionary",
	TypeBuffer:     "Buffer",
	TypeWindow:     "Window",
	TypeTabpage:    "Tabpage",
	TypeLuaRef:     "LuaRef",
	TypeCallback:   "Callback",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Object is any host value. A nil Object is treated as Nil.
type Object interface {
	Type() Type
	object()
}

type (
	// Nil is the absence of a value.
	Nil struct{}
	// Boolean is a truth value.
	Boolean bool
	// Integer is a 64-bit signed integer.
	Integer int64
	// Float is an IEEE-754 double.
	Float float64
	// String is a byte string; it may hold NUL bytes.
	String string
	// Array is an ordered sequence of values.
	Array []Object
	// Dictionary is an ordered sequence of string-keyed values.
	Dictionary []KeyValue
	// Buffer is a buffer handle.
	Buffer int64
	// Window is a window handle.
	Window int64
	// Tabpage is a tabpage handle.
	Tabpage int64
	// LuaRef is a reference into the host's Lua registry. It never crosses
	// into a guest.
	LuaRef int
)

// KeyValue is one Dictionary entry.
type KeyValue struct {
	Key   string
	Value Object
}

// Callback wraps a guest callback handle. A nil Handle is the absent
// callback. The Object does not own a reference: whoever produced it decides
// when to Drop.
type Callback struct {
	Handle *callback.Handle
}

func (Nil) Type() Type        { return TypeNil }
func (Boolean) Type() Type    { return TypeBoolean }
func (Integer) Type() Type    { return TypeInteger }
func (Float) Type() Type      { return TypeFloat }
func (String) Type() Type     { return TypeString }
func (Array) Type() Type      { return TypeArray }
func (Dictionary) Type() Type { return TypeDictionary }
func (Buffer) Type() Type     { return TypeBuffer }
func (Window) Type() Type     { return TypeWindow }
func (Tabpage) Type() Type    { return TypeTabpage }
func (LuaRef) Type() Type     { return TypeLuaRef }
func (Callback) Type() Type   { return TypeCallback }

func (Nil) object()        {}
func (Boolean) object()    {}
func (Integer) object()    {}
func (Float) object()      {}
func (String) object()     {}
func (Array) object()      {}
func (Dictionary) object() {}
func (Buffer) object()     {}
func (Window) object()     {}
func (Tabpage) object()    {}
func (LuaRef) object()     {}
func (Callback) object()   {}

// TypeOf returns o's type, mapping a nil Object to TypeNil.
func TypeOf(o Object) Type {
	if o == nil {
		return TypeNil
	}
	return o.Type()
}

// IsContainer reports whether t is Array or Dictionary.
func (t Type) IsContainer() bool {
	return t == TypeArray || t == TypeDictionary
}

// Get returns the value stored under key. With duplicate keys the first wins.
func (d Dictionary) Get(key string) (Object, bool) {
	for _, kv := range d {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (d Dictionary) Keys() []string {
	keys := make([]string, len(d))
	for i, kv := range d {
		keys[i] = kv.Key
	}
	return keys
}

// Equal compares two objects structurally. Callbacks compare by their
// (instance, ref) pair.
func Equal(a, b Object) bool {
	if TypeOf(a) != TypeOf(b) {
		return false
	}
	switch av := a.(type) {
	case nil, Nil:
		return true
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Dictionary:
		bv := b.(Dictionary)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Key != bv[i].Key || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case Callback:
		return av.Handle.Equal(b.(Callback).Handle)
	default:
		return a == b
	}
}
