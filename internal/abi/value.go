// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package abi defines the values exchanged with guest modules and how they
// are laid out in guest memory.
//
// Values travel as versioned envelopes of fixed-layout records encoded with
// CBOR. There are two record kinds: Object, the general value, and
// Primitive, the restricted value allowed as an Array element or Dictionary
// value. Primitive has no container variant, so composite values never nest
// deeper than one level.
package abi

import (
	"fmt"
	"math"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// Version is the envelope schema version this host speaks.
const Version uint8 = 1

// Tag selects the variant of an Object or Primitive record.
type Tag uint8

// Variants. Array and Dict are only valid in Object records.
const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagArray
	TagDict
	TagBuffer
	TagWindow
	TagTabpage
	TagCallback
	tagCount
)

var tagNames = [...]string{
	TagNil:      "nil",
	TagBool:     "bool",
	TagInt:      "int",
	TagFloat:    "float",
	TagString:   "string",
	TagArray:    "array",
	TagDict:     "dict",
	TagBuffer:   "buffer",
	TagWindow:   "window",
	TagTabpage:  "tabpage",
	TagCallback: "callback",
}

func (t Tag) String() string {
	if t < tagCount {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// IsHandle reports whether t carries a buffer, window or tabpage handle.
func (t Tag) IsHandle() bool {
	return t == TagBuffer || t == TagWindow || t == TagTabpage
}

// Primitive is a value without containers. Int holds integers, handles
// (within int32 range) and callback references (within uint32 range).
type Primitive struct {
	_     struct{} `cbor:",toarray"`
	Tag   Tag
	Bool  bool
	Int   int64
	Float float64
	Str   []byte
}

// Entry is one dictionary pair.
type Entry struct {
	_     struct{} `cbor:",toarray"`
	Key   []byte
	Value Primitive
}

// Object is a general value: a primitive, or a container of primitives.
type Object struct {
	_     struct{} `cbor:",toarray"`
	Tag   Tag
	Bool  bool
	Int   int64
	Float float64
	Str   []byte
	Array []Primitive
	Dict  []Entry
}

// Envelope is the unit written to guest memory: call arguments, or a single
// result. A non-empty Err replaces the result.
type Envelope struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Values  []Object
	Err     string
}

func invalid(format string, args ...any) error {
	return oops.In("abi").Code(errutil.CodeInvalidEncoding).Errorf(format, args...)
}

func validateScalar(tag Tag, i int64) error {
	switch {
	case tag >= tagCount:
		return invalid("unknown tag %d", uint8(tag))
	case tag.IsHandle() && (i < math.MinInt32 || i > math.MaxInt32):
		return invalid("%s handle %d out of range", tag, i)
	case tag == TagCallback && (i < 0 || i > math.MaxUint32):
		return invalid("callback reference %d out of range", i)
	}
	return nil
}

// Validate checks the record is well formed.
func (p Primitive) Validate() error {
	if p.Tag == TagArray || p.Tag == TagDict {
		return invalid("%s is not a primitive variant", p.Tag)
	}
	return validateScalar(p.Tag, p.Int)
}

// Validate checks the record and every element is well formed.
func (o Object) Validate() error {
	if err := validateScalar(o.Tag, o.Int); err != nil {
		return err
	}
	if o.Tag != TagArray && len(o.Array) > 0 {
		return invalid("%s record carries array elements", o.Tag)
	}
	if o.Tag != TagDict && len(o.Dict) > 0 {
		return invalid("%s record carries dictionary entries", o.Tag)
	}
	for i, p := range o.Array {
		if err := p.Validate(); err != nil {
			return oops.In("abi").With("index", i).Wrap(err)
		}
	}
	for i, e := range o.Dict {
		if err := e.Value.Validate(); err != nil {
			return oops.In("abi").With("index", i).With("key", string(e.Key)).Wrap(err)
		}
	}
	return nil
}

// Nil returns the nil Object.
func Nil() Object { return Object{Tag: TagNil} }

// Absent returns the callback record with reference 0, meaning "no callback".
func Absent() Object { return Object{Tag: TagCallback} }
