// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasmtest

const opEnd = 0x0b

// Instruction encoders. Each returns the bytes of one instruction.

func LocalGet(i uint32) []byte  { return appendU32([]byte{0x20}, i) }
func LocalSet(i uint32) []byte  { return appendU32([]byte{0x21}, i) }
func GlobalGet(i uint32) []byte { return appendU32([]byte{0x23}, i) }
func GlobalSet(i uint32) []byte { return appendU32([]byte{0x24}, i) }
func Call(fn uint32) []byte     { return appendU32([]byte{0x10}, fn) }
func I32Const(v int32) []byte   { return appendS64([]byte{0x41}, int64(v)) }
func I64Const(v int64) []byte   { return appendS64([]byte{0x42}, v) }

// Opcodes without immediates.
var (
	Unreachable   = []byte{0x00}
	Drop          = []byte{0x1a}
	I32Add        = []byte{0x6a}
	I64Or         = []byte{0x84}
	I64Shl        = []byte{0x86}
	I64ExtendI32U = []byte{0xad}
)

// Spin loops forever: loop br 0 end.
var Spin = []byte{0x03, 0x40, 0x0c, 0x00, opEnd}

// PackLocals leaves ptr<<32|len on the stack from two i32 locals.
func PackLocals(ptr, length uint32) []byte {
	var out []byte
	out = append(out, LocalGet(ptr)...)
	out = append(out, I64ExtendI32U...)
	out = append(out, I64Const(32)...)
	out = append(out, I64Shl...)
	out = append(out, LocalGet(length)...)
	out = append(out, I64ExtendI32U...)
	out = append(out, I64Or...)
	return out
}
