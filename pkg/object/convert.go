// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package object

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/samber/oops"
)

// FromGo converts plain Go values (as produced by encoding/json or yaml
// decoding) into Objects. Map keys are sorted so the result is
// deterministic.
func FromGo(v any) (Object, error) {
	switch val := v.(type) {
	case nil:
		return Nil{}, nil
	case Object:
		return val, nil
	case bool:
		return Boolean(val), nil
	case int:
		return Integer(val), nil
	case int32:
		return Integer(val), nil
	case int64:
		return Integer(val), nil
	case uint32:
		return Integer(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, oops.In("object").With("value", val).Errorf("integer %d overflows Integer", val)
		}
		return Integer(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, oops.In("object").With("value", val.String()).Wrap(err)
		}
		return Float(f), nil
	case string:
		return String(val), nil
	case []byte:
		return String(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, e := range val {
			o, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			arr[i] = o
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := make(Dictionary, 0, len(val))
		for _, k := range keys {
			o, err := FromGo(val[k])
			if err != nil {
				return nil, err
			}
			dict = append(dict, KeyValue{Key: k, Value: o})
		}
		return dict, nil
	default:
		return nil, oops.In("object").With("go_type", fmt.Sprintf("%T", v)).Errorf("cannot convert %T to an object", v)
	}
}

// ToGo converts an Object into plain Go values suitable for encoding/json.
// Dictionaries become maps, so key order is not kept. Handles become their
// integer value; callbacks and Lua references become descriptive strings.
func ToGo(o Object) any {
	switch val := o.(type) {
	case nil, Nil:
		return nil
	case Boolean:
		return bool(val)
	case Integer:
		return int64(val)
	case Float:
		return float64(val)
	case String:
		return string(val)
	case Array:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToGo(e)
		}
		return out
	case Dictionary:
		out := make(map[string]any, len(val))
		for _, kv := range val {
			if _, dup := out[kv.Key]; !dup {
				out[kv.Key] = ToGo(kv.Value)
			}
		}
		return out
	case Buffer:
		return int64(val)
	case Window:
		return int64(val)
	case Tabpage:
		return int64(val)
	case LuaRef:
		return fmt.Sprintf("luaref(%d)", int(val))
	case Callback:
		return val.Handle.String()
	default:
		return fmt.Sprintf("%v", o)
	}
}
