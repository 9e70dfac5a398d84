// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	luavm "github.com/yuin/gopher-lua"

	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

func eval(t *testing.T, L *luavm.LState, expr string) luavm.LValue {
	t.Helper()
	require.NoError(t, L.DoString("v = "+expr))
	return L.GetGlobal("v")
}

func TestConverter_ToObject(t *testing.T) {
	L := luavm.NewState()
	defer L.Close()

	tests := []struct {
		name string
		expr string
		want object.Object
	}{
		{"nil", "nil", object.Nil{}},
		{"boolean", "true", object.Boolean(true)},
		{"integral number", "42", object.Integer(42)},
		{"negative integral", "-7", object.Integer(-7)},
		{"fraction", "2.5", object.Float(2.5)},
		{"huge number", "2^70", object.Float(math.Pow(2, 70))},
		{"string", `string.char(97, 0, 98)`, object.String("a\x00b")},
		{"empty table", "{}", object.Array{}},
		{"sequence", `{1, "two", false}`, object.Array{object.Integer(1), object.String("two"), object.Boolean(false)}},
		{"record with sorted keys", `{zeta = 1, alpha = {2}}`, object.Dictionary{
			{Key: "alpha", Value: object.Array{object.Integer(2)}},
			{Key: "zeta", Value: object.Integer(1)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &converter{refs: NewRefs()}
			got, err := c.toObject(eval(t, L, tt.expr), 0)
			require.NoError(t, err)
			assert.True(t, object.Equal(tt.want, got), "want %#v, got %#v", tt.want, got)
		})
	}
}

func TestConverter_FunctionsBecomeRefs(t *testing.T) {
	L := luavm.NewState()
	defer L.Close()

	refs := NewRefs()
	c := &converter{refs: refs}
	fn := eval(t, L, "function() end")

	got, err := c.toObject(fn, 0)
	require.NoError(t, err)
	ref, ok := got.(object.LuaRef)
	require.True(t, ok, "got %#v", got)
	assert.Equal(t, []object.LuaRef{ref}, c.taken)

	back, ok := refs.Get(ref)
	require.True(t, ok)
	assert.Same(t, fn, back)

	refs.Unref(c.taken...)
	assert.Zero(t, refs.Len())
}

func TestConverter_Errors(t *testing.T) {
	L := luavm.NewState()
	defer L.Close()
	require.NoError(t, L.DoString(`loop = {}; loop.self = loop`))

	tests := []struct {
		name  string
		value luavm.LValue
		code  string
	}{
		{"mixed keys", eval(t, L, `{1, 2, x = 3}`), errutil.CodeInvalidArgument},
		{"sparse sequence", eval(t, L, `{[1] = 1, [3] = 3}`), errutil.CodeInvalidArgument},
		{"boolean key", eval(t, L, `{[true] = 1}`), errutil.CodeInvalidArgument},
		{"cycle", L.GetGlobal("loop"), errutil.CodeInvalidArgument},
		{"coroutine", eval(t, L, `coroutine.create(function() end)`), errutil.CodeUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &converter{refs: NewRefs()}
			_, err := c.toObject(tt.value, 0)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}
