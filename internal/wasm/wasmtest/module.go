// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package wasmtest assembles small WebAssembly modules for tests, so no
// compiled guest binaries need to be checked in.
package wasmtest

import "encoding/binary"

// ValType is a WebAssembly value type.
type ValType byte

// Value types.
const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// ExportKind is the external kind of an export.
type ExportKind byte

// Export kinds.
const (
	ExportFunc   ExportKind = 0x00
	ExportMemory ExportKind = 0x02
	ExportGlobal ExportKind = 0x03
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Sig is shorthand for building a FuncType.
func Sig(params []ValType, results ...ValType) FuncType {
	return FuncType{Params: params, Results: results}
}

func (ft FuncType) equal(o FuncType) bool {
	return string(valBytes(ft.Params)) == string(valBytes(o.Params)) &&
		string(valBytes(ft.Results)) == string(valBytes(o.Results))
}

type funcImport struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type global struct {
	typ     ValType
	mutable bool
	init    int64
}

type export struct {
	name string
	kind ExportKind
	idx  uint32
}

type dataSeg struct {
	offset uint32
	data   []byte
}

// Module is a module under construction. Imports must be added before any
// function is defined.
type Module struct {
	types     []FuncType
	imports   []funcImport
	funcs     []function
	memory    bool
	memMin    uint32
	memMax    uint32
	hasMemMax bool
	globals   []global
	exports   []export
	data      []dataSeg
}

// Type interns ft and returns its index.
func (m *Module) Type(ft FuncType) uint32 {
	for i, t := range m.types {
		if t.equal(ft) {
			return uint32(i) //nolint:gosec // G115: test modules are tiny
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1) //nolint:gosec // G115: test modules are tiny
}

// ImportFunc declares an imported function and returns its function index.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must precede function definitions")
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typeIdx: m.Type(ft)})
	return uint32(len(m.imports) - 1) //nolint:gosec // G115: test modules are tiny
}

// Func defines a function and returns its index. The body is the
// concatenation of instrs; the final end opcode is appended.
func (m *Module) Func(ft FuncType, locals []ValType, instrs ...[]byte) uint32 {
	var body []byte
	for _, in := range instrs {
		body = append(body, in...)
	}
	body = append(body, opEnd)
	m.funcs = append(m.funcs, function{typeIdx: m.Type(ft), locals: locals, body: body})
	return uint32(len(m.imports) + len(m.funcs) - 1) //nolint:gosec // G115: test modules are tiny
}

// Memory declares the single linear memory in 64 KiB pages.
func (m *Module) Memory(minPages uint32, maxPages ...uint32) {
	m.memory = true
	m.memMin = minPages
	if len(maxPages) > 0 {
		m.hasMemMax = true
		m.memMax = maxPages[0]
	}
}

// Global declares a global initialized to a constant and returns its index.
func (m *Module) Global(t ValType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{typ: t, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1) //nolint:gosec // G115: test modules are tiny
}

// Export exports an entity under name.
func (m *Module) Export(name string, kind ExportKind, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kind, idx: idx})
}

// Data places bytes at a fixed memory offset.
func (m *Module) Data(offset uint32, data []byte) {
	m.data = append(m.data, dataSeg{offset: offset, data: data})
}

// Bytes encodes the module in the binary format.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.types))) //nolint:gosec // G115: test modules are tiny
		for _, t := range m.types {
			sec = append(sec, 0x60)
			sec = appendVec(sec, valBytes(t.Params))
			sec = appendVec(sec, valBytes(t.Results))
		}
		out = appendSection(out, 1, sec)
	}

	if len(m.imports) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.imports))) //nolint:gosec // G115: test modules are tiny
		for _, im := range m.imports {
			sec = appendVec(sec, []byte(im.module))
			sec = appendVec(sec, []byte(im.name))
			sec = append(sec, byte(ExportFunc))
			sec = appendU32(sec, im.typeIdx)
		}
		out = appendSection(out, 2, sec)
	}

	if len(m.funcs) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.funcs))) //nolint:gosec // G115: test modules are tiny
		for _, f := range m.funcs {
			sec = appendU32(sec, f.typeIdx)
		}
		out = appendSection(out, 3, sec)
	}

	if m.memory {
		sec := []byte{0x01}
		if m.hasMemMax {
			sec = append(sec, 0x01)
			sec = appendU32(sec, m.memMin)
			sec = appendU32(sec, m.memMax)
		} else {
			sec = append(sec, 0x00)
			sec = appendU32(sec, m.memMin)
		}
		out = appendSection(out, 5, sec)
	}

	if len(m.globals) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.globals))) //nolint:gosec // G115: test modules are tiny
		for _, g := range m.globals {
			sec = append(sec, byte(g.typ))
			if g.mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			if g.typ == I64 {
				sec = append(sec, I64Const(g.init)...)
			} else {
				sec = append(sec, I32Const(int32(g.init))...) //nolint:gosec // G115: caller picks the type
			}
			sec = append(sec, opEnd)
		}
		out = appendSection(out, 6, sec)
	}

	if len(m.exports) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.exports))) //nolint:gosec // G115: test modules are tiny
		for _, e := range m.exports {
			sec = appendVec(sec, []byte(e.name))
			sec = append(sec, byte(e.kind))
			sec = appendU32(sec, e.idx)
		}
		out = appendSection(out, 7, sec)
	}

	if len(m.funcs) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.funcs))) //nolint:gosec // G115: test modules are tiny
		for _, f := range m.funcs {
			var body []byte
			body = appendU32(body, uint32(len(f.locals))) //nolint:gosec // G115: test modules are tiny
			for _, l := range f.locals {
				body = appendU32(body, 1)
				body = append(body, byte(l))
			}
			body = append(body, f.body...)
			sec = appendVec(sec, body)
		}
		out = appendSection(out, 10, sec)
	}

	if len(m.data) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.data))) //nolint:gosec // G115: test modules are tiny
		for _, d := range m.data {
			sec = append(sec, 0x00)
			sec = append(sec, I32Const(int32(d.offset))...) //nolint:gosec // G115: offsets are small
			sec = append(sec, opEnd)
			sec = appendVec(sec, d.data)
		}
		out = appendSection(out, 11, sec)
	}

	return out
}

func valBytes(vs []ValType) []byte {
	out := make([]byte, len(vs))
	for i, v := range vs {
		out[i] = byte(v)
	}
	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	return appendVec(out, content)
}

func appendVec(out, content []byte) []byte {
	out = appendU32(out, uint32(len(content))) //nolint:gosec // G115: test modules are tiny
	return append(out, content...)
}

func appendU32(out []byte, v uint32) []byte {
	return binary.AppendUvarint(out, uint64(v))
}

func appendS64(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
