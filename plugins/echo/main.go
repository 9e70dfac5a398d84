// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build tinygo

// Package main implements the echo plugin. Its echo export returns the
// argument envelope it was called with, so a single argument comes back
// unchanged.
//
// Build with TinyGo:
//
//	tinygo build -o plugins/echo/echo.wasm -target=wasm-unknown -no-debug ./plugins/echo
//
// The host writes arguments through allocate(size) and reads the result from
// the packed pointer an export returns: pointer in the upper 32 bits, length
// in the lower 32 bits.
package main

import "unsafe"

// live keeps host-written buffers reachable until the call's post-return.
var live [][]byte

//export allocate
func allocate(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	live = append(live, buf)
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

//export echo
func echo(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

//export cabi_post_echo
func postEcho(uint64) {
	clear(live)
	live = live[:0]
}

func main() {}
