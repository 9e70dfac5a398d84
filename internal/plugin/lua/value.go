// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"math"
	"sort"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

// maxDepth bounds table nesting so self-referencing tables fail instead of
// recursing forever.
const maxDepth = 64

// converter turns Lua values into host objects. Functions become LuaRef
// objects; the refs it takes are collected so the caller can release them
// once the call is over.
type converter struct {
	refs  *Refs
	taken []object.LuaRef
}

func (c *converter) toObject(v lua.LValue, depth int) (object.Object, error) {
	if depth > maxDepth {
		return nil, oops.In("lua").
			Code(errutil.CodeInvalidArgument).
			Errorf("tables nested deeper than %d levels", maxDepth)
	}
	switch v := v.(type) {
	case *lua.LNilType:
		return object.Nil{}, nil
	case lua.LBool:
		return object.Boolean(v), nil
	case lua.LNumber:
		return number(float64(v)), nil
	case lua.LString:
		return object.String(v), nil
	case *lua.LTable:
		return c.table(v, depth)
	case *lua.LFunction:
		ref := c.refs.Ref(v)
		c.taken = append(c.taken, ref)
		return ref, nil
	case *lua.LUserData:
		if lc, ok := v.Value.(*luaCallback); ok {
			return object.Callback{Handle: lc.h}, nil
		}
	}
	return nil, oops.In("lua").
		Code(errutil.CodeUnsupportedType).
		With("lua_type", v.Type().String()).
		Errorf("cannot convert a Lua %s", v.Type())
}

// number maps integral values that fit in 64 bits to Integer.
func number(f float64) object.Object {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return object.Integer(int64(f))
	}
	return object.Float(f)
}

// table converts t to an Array when its keys are exactly 1..n, and to a
// Dictionary with sorted keys otherwise. The empty table is an Array.
func (c *converter) table(t *lua.LTable, depth int) (object.Object, error) {
	var (
		count   int
		strKeys []string
		bad     lua.LValue
	)
	t.ForEach(func(k, _ lua.LValue) {
		count++
		switch k := k.(type) {
		case lua.LString:
			strKeys = append(strKeys, string(k))
		case lua.LNumber:
		default:
			if bad == nil {
				bad = k
			}
		}
	})
	if bad != nil {
		return nil, oops.In("lua").
			Code(errutil.CodeInvalidArgument).
			With("key_type", bad.Type().String()).
			Errorf("table keys must be strings or array indices, got %s", bad.Type())
	}

	if len(strKeys) == 0 && t.Len() == count {
		arr := make(object.Array, 0, count)
		for i := 1; i <= count; i++ {
			o, err := c.toObject(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, o)
		}
		return arr, nil
	}
	if len(strKeys) != count {
		return nil, oops.In("lua").
			Code(errutil.CodeInvalidArgument).
			Errorf("table keys must be all strings or exactly 1..n")
	}

	sort.Strings(strKeys)
	dict := make(object.Dictionary, 0, len(strKeys))
	for _, k := range strKeys {
		o, err := c.toObject(t.RawGetString(k), depth+1)
		if err != nil {
			return nil, err
		}
		dict = append(dict, object.KeyValue{Key: k, Value: o})
	}
	return dict, nil
}

// fromObject converts o into a Lua value. Callback handles in o are adopted
// by the bridge.
func (b *Bridge) fromObject(L *lua.LState, o object.Object) lua.LValue {
	switch v := o.(type) {
	case nil, object.Nil:
		return lua.LNil
	case object.Boolean:
		return lua.LBool(v)
	case object.Integer:
		return lua.LNumber(v)
	case object.Float:
		return lua.LNumber(v)
	case object.String:
		return lua.LString(v)
	case object.Buffer:
		return lua.LNumber(v)
	case object.Window:
		return lua.LNumber(v)
	case object.Tabpage:
		return lua.LNumber(v)
	case object.Array:
		t := L.CreateTable(len(v), 0)
		for i, item := range v {
			t.RawSetInt(i+1, b.fromObject(L, item))
		}
		return t
	case object.Dictionary:
		t := L.CreateTable(0, len(v))
		for _, kv := range v {
			t.RawSetString(kv.Key, b.fromObject(L, kv.Value))
		}
		return t
	case object.LuaRef:
		if lv, ok := b.refs.Get(v); ok {
			return lv
		}
		return lua.LNil
	case object.Callback:
		if v.Handle.IsAbsent() {
			return lua.LNil
		}
		return b.newCallback(L, v.Handle)
	}
	return lua.LNil
}
