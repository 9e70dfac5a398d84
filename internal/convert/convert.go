// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package convert translates values between the host object model and the
// guest boundary records.
//
// Every conversion takes a Context naming the instance currently executing.
// Callback references are only meaningful inside that instance: a handle
// owned by another instance converts to the absent reference.
package convert

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/internal/abi"
	"github.com/holomush/nvimwasm/pkg/callback"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

// Context identifies the instance on whose behalf values are converted.
type Context struct {
	InstanceID int32
	Callbacks  *callback.Registry
}

func nonPrimitive(t object.Type, container object.Type) error {
	return oops.In("convert").
		Code(errutil.CodeNonPrimitive).
		With("type", t.String()).
		With("container", container.String()).
		Errorf("type conversion error: %s is not a primitive type. "+
			"Nested containers cannot cross the plugin boundary", t)
}

func unsupported(t object.Type) error {
	return oops.In("convert").
		Code(errutil.CodeUnsupportedType).
		With("type", t.String()).
		Errorf("%s values cannot be passed to a plugin", t)
}

// callbackRef returns the reference to emit for h under cc. Handles minted
// for another instance, or for an unloaded instance whose id was reused,
// yield 0.
func (cc Context) callbackRef(h *callback.Handle) int64 {
	if h.IsAbsent() || h.InstanceID() != cc.InstanceID || h.Orphaned() {
		return 0
	}
	return int64(h.Ref())
}

// mint wraps a guest reference in a new handle owned by the caller.
func (cc Context) mint(ref int64) (object.Object, error) {
	if ref == 0 {
		return object.Callback{}, nil
	}
	if cc.Callbacks == nil {
		return nil, oops.In("convert").
			Code(errutil.CodeInvalidArgument).
			With("instance_id", cc.InstanceID).
			Errorf("no callback registry to hold reference %d", ref)
	}
	return object.Callback{Handle: cc.Callbacks.New(cc.InstanceID, uint32(ref))}, nil //nolint:gosec // G115: validated by abi
}

// reduce narrows a host handle to the boundary's 32-bit width.
func reduce(h int64) int64 {
	return int64(int32(h)) //nolint:gosec // G115: the boundary carries 32-bit handles
}

// ToGuestPrimitive converts a value bound for an array element or dictionary
// value. container names the enclosing container for error reporting.
func (cc Context) ToGuestPrimitive(o object.Object, container object.Type) (abi.Primitive, error) {
	switch v := o.(type) {
	case nil, object.Nil:
		return abi.Primitive{Tag: abi.TagNil}, nil
	case object.Boolean:
		return abi.Primitive{Tag: abi.TagBool, Bool: bool(v)}, nil
	case object.Integer:
		return abi.Primitive{Tag: abi.TagInt, Int: int64(v)}, nil
	case object.Float:
		return abi.Primitive{Tag: abi.TagFloat, Float: float64(v)}, nil
	case object.String:
		return abi.Primitive{Tag: abi.TagString, Str: []byte(v)}, nil
	case object.Buffer:
		return abi.Primitive{Tag: abi.TagBuffer, Int: reduce(int64(v))}, nil
	case object.Window:
		return abi.Primitive{Tag: abi.TagWindow, Int: reduce(int64(v))}, nil
	case object.Tabpage:
		return abi.Primitive{Tag: abi.TagTabpage, Int: reduce(int64(v))}, nil
	case object.Callback:
		return abi.Primitive{Tag: abi.TagCallback, Int: cc.callbackRef(v.Handle)}, nil
	case object.Array, object.Dictionary:
		return abi.Primitive{}, nonPrimitive(v.Type(), container)
	default:
		return abi.Primitive{}, unsupported(o.Type())
	}
}

// ToGuest converts a top-level value.
func (cc Context) ToGuest(o object.Object) (abi.Object, error) {
	switch v := o.(type) {
	case object.Array:
		out := abi.Object{Tag: abi.TagArray, Array: make([]abi.Primitive, 0, len(v))}
		for i, elem := range v {
			p, err := cc.ToGuestPrimitive(elem, object.TypeArray)
			if err != nil {
				return abi.Object{}, oops.In("convert").With("index", i).Wrap(err)
			}
			out.Array = append(out.Array, p)
		}
		return out, nil
	case object.Dictionary:
		out := abi.Object{Tag: abi.TagDict, Dict: make([]abi.Entry, 0, len(v))}
		for _, kv := range v {
			p, err := cc.ToGuestPrimitive(kv.Value, object.TypeDictionary)
			if err != nil {
				return abi.Object{}, oops.In("convert").With("key", kv.Key).Wrap(err)
			}
			out.Dict = append(out.Dict, abi.Entry{Key: []byte(kv.Key), Value: p})
		}
		return out, nil
	}
	p, err := cc.ToGuestPrimitive(o, object.TypeNil)
	if err != nil {
		return abi.Object{}, err
	}
	return promote(p), nil
}

// ToGuestAll converts an argument list.
func (cc Context) ToGuestAll(args []object.Object) ([]abi.Object, error) {
	out := make([]abi.Object, 0, len(args))
	for i, a := range args {
		v, err := cc.ToGuest(a)
		if err != nil {
			return nil, oops.In("convert").With("arg", i).Wrap(err)
		}
		out = append(out, v)
	}
	return out, nil
}

func promote(p abi.Primitive) abi.Object {
	return abi.Object{Tag: p.Tag, Bool: p.Bool, Int: p.Int, Float: p.Float, Str: p.Str}
}

// ToHostPrimitive converts a container element. Callback references mint new
// handles the caller must eventually drop.
func (cc Context) ToHostPrimitive(p abi.Primitive) (object.Object, error) {
	switch p.Tag {
	case abi.TagNil:
		return object.Nil{}, nil
	case abi.TagBool:
		return object.Boolean(p.Bool), nil
	case abi.TagInt:
		return object.Integer(p.Int), nil
	case abi.TagFloat:
		return object.Float(p.Float), nil
	case abi.TagString:
		return object.String(p.Str), nil
	case abi.TagBuffer:
		return object.Buffer(p.Int), nil
	case abi.TagWindow:
		return object.Window(p.Int), nil
	case abi.TagTabpage:
		return object.Tabpage(p.Int), nil
	case abi.TagCallback:
		return cc.mint(p.Int)
	default:
		return nil, oops.In("convert").
			Code(errutil.CodeInvalidEncoding).
			With("tag", p.Tag.String()).
			Errorf("unexpected %s record in primitive position", p.Tag)
	}
}

// ToHost converts a top-level guest value. On failure any handles minted so
// far are dropped.
func (cc Context) ToHost(ctx context.Context, v abi.Object) (object.Object, error) {
	switch v.Tag {
	case abi.TagArray:
		out := make(object.Array, 0, len(v.Array))
		for i, p := range v.Array {
			o, err := cc.ToHostPrimitive(p)
			if err != nil {
				Release(ctx, out)
				return nil, oops.In("convert").With("index", i).Wrap(err)
			}
			out = append(out, o)
		}
		return out, nil
	case abi.TagDict:
		out := make(object.Dictionary, 0, len(v.Dict))
		for _, e := range v.Dict {
			o, err := cc.ToHostPrimitive(e.Value)
			if err != nil {
				Release(ctx, out)
				return nil, oops.In("convert").With("key", string(e.Key)).Wrap(err)
			}
			out = append(out, object.KeyValue{Key: string(e.Key), Value: o})
		}
		return out, nil
	}
	return cc.ToHostPrimitive(abi.Primitive{Tag: v.Tag, Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str})
}

// ToHostAll converts an argument list.
func (cc Context) ToHostAll(ctx context.Context, values []abi.Object) ([]object.Object, error) {
	out := make([]object.Object, 0, len(values))
	for i, v := range values {
		o, err := cc.ToHost(ctx, v)
		if err != nil {
			Release(ctx, out...)
			return nil, oops.In("convert").With("arg", i).Wrap(err)
		}
		out = append(out, o)
	}
	return out, nil
}
