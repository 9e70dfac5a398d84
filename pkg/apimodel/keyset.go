// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package apimodel

// Field is one key of a keyset. Every field holds an Object.
type Field struct {
	Name string `json:"name" yaml:"name"`
}

// Keyset is a dictionary type with a fixed, ordered set of keys.
type Keyset struct {
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// WitName is the boundary name of the keyset record.
func (k *Keyset) WitName() string {
	return WitName("keyset-" + k.Name)
}

// FieldNames returns the field names in declaration order.
func (k *Keyset) FieldNames() []string {
	names := make([]string, len(k.Fields))
	for i, f := range k.Fields {
		names[i] = f.Name
	}
	return names
}

// HasField reports whether name is one of the keyset's keys.
func (k *Keyset) HasField(name string) bool {
	for _, f := range k.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// KeysetIndex maps keyset names to keysets. It is built once, after all
// keysets are parsed and before any function declaration is parsed.
type KeysetIndex map[string]*Keyset

// IndexKeysets builds a KeysetIndex. A later keyset with the same name
// replaces an earlier one.
func IndexKeysets(keysets []*Keyset) KeysetIndex {
	idx := make(KeysetIndex, len(keysets))
	for _, k := range keysets {
		idx[k.Name] = k
	}
	return idx
}

// Lookup returns the keyset called name.
func (idx KeysetIndex) Lookup(name string) (*Keyset, bool) {
	k, ok := idx[name]
	return k, ok
}
