// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package object_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/nvimwasm/pkg/callback"
	"github.com/holomush/nvimwasm/pkg/object"
)

func TestTypeOf(t *testing.T) {
	assert.Equal(t, object.TypeNil, object.TypeOf(nil))
	assert.Equal(t, object.TypeNil, object.TypeOf(object.Nil{}))
	assert.Equal(t, object.TypeArray, object.TypeOf(object.Array{}))
	assert.Equal(t, "Dictionary", object.TypeDictionary.String())
	assert.True(t, object.TypeArray.IsContainer())
	assert.False(t, object.TypeString.IsContainer())
}

func TestEqual(t *testing.T) {
	reg := callback.NewRegistry(nil)
	a := object.Dictionary{
		{Key: "list", Value: object.Array{object.Integer(1), object.String("x\x00y")}},
		{Key: "cb", Value: object.Callback{Handle: reg.New(1, 3)}},
	}
	b := object.Dictionary{
		{Key: "list", Value: object.Array{object.Integer(1), object.String("x\x00y")}},
		{Key: "cb", Value: object.Callback{Handle: reg.New(1, 3)}},
	}
	assert.True(t, object.Equal(a, b))
	assert.True(t, object.Equal(nil, object.Nil{}))
	assert.False(t, object.Equal(object.Integer(1), object.Float(1)))
	assert.False(t, object.Equal(object.Buffer(1), object.Window(1)))
	assert.False(t, object.Equal(object.Array{object.Integer(1)}, object.Array{object.Integer(2)}))
	assert.False(t, object.Equal(a, object.Dictionary{{Key: "list", Value: object.Nil{}}}))
}

func TestDictionaryGet(t *testing.T) {
	d := object.Dictionary{{Key: "a", Value: object.Integer(1)}, {Key: "a", Value: object.Integer(2)}}
	v, ok := d.Get("a")
	require.True(t, ok)
	assert.Equal(t, object.Integer(1), v)
	_, ok = d.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "a"}, d.Keys())
}

func TestFromGo_JSON(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"b": [1, 2.5, "s", true, null], "a": {"n": 9007199254740993}}`))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))

	got, err := object.FromGo(v)
	require.NoError(t, err)

	want := object.Dictionary{
		{Key: "a", Value: object.Dictionary{{Key: "n", Value: object.Integer(9007199254740993)}}},
		{Key: "b", Value: object.Array{
			object.Integer(1), object.Float(2.5), object.String("s"), object.Boolean(true), object.Nil{},
		}},
	}
	assert.True(t, object.Equal(want, got), "got %#v", got)
}

func TestFromGo_Unsupported(t *testing.T) {
	_, err := object.FromGo(struct{}{})
	assert.Error(t, err)
	_, err = object.FromGo(uint64(1 << 63))
	assert.Error(t, err)
}

func TestToGo(t *testing.T) {
	in := object.Dictionary{
		{Key: "i", Value: object.Integer(3)},
		{Key: "w", Value: object.Window(1000)},
		{Key: "l", Value: object.Array{object.Nil{}, object.Boolean(false)}},
		{Key: "cb", Value: object.Callback{}},
	}
	out, err := json.Marshal(object.ToGo(in))
	require.NoError(t, err)
	assert.JSONEq(t, `{"i":3,"w":1000,"l":[null,false],"cb":"callback(absent)"}`, string(out))
}
