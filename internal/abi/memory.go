// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package abi

import (
	"context"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero/api"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// AllocateExport is the guest function the host calls to reserve memory.
const AllocateExport = "allocate"

// PackPtrLen packs a pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func PackPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// UnpackPtrLen unpacks a pointer and length from a packed i64.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: packed format stores 32-bit values
	return ptr, length
}

// Read copies length bytes at ptr out of the module's memory.
func Read(mod api.Module, ptr, length uint32) ([]byte, error) {
	if length > MaxEnvelopeSize {
		return nil, invalid("guest buffer of %d bytes exceeds %d", length, MaxEnvelopeSize)
	}
	mem := mod.Memory()
	if mem == nil {
		return nil, oops.In("abi").Code(errutil.CodeSignatureMismatch).Errorf("module %q exports no memory", mod.Name())
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, invalid("guest buffer [%d, +%d) is out of bounds", ptr, length)
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Write reserves guest memory through the allocate export, copies data into
// it, and returns the packed pointer and length.
func Write(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	alloc := mod.ExportedFunction(AllocateExport)
	if alloc == nil {
		return 0, oops.In("abi").Code(errutil.CodeExportNotFound).
			With("export", AllocateExport).
			Errorf("module %q does not export %q", mod.Name(), AllocateExport)
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, oops.In("abi").Code(errutil.CodeTrap).With("export", AllocateExport).Wrap(err)
	}
	if len(results) != 1 {
		return 0, oops.In("abi").Code(errutil.CodeSignatureMismatch).
			Errorf("%s returned %d values, want 1", AllocateExport, len(results))
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit
	if mem := mod.Memory(); mem == nil || !mem.Write(ptr, data) {
		return 0, invalid("cannot write %d bytes at %d", len(data), ptr)
	}
	return PackPtrLen(ptr, uint32(len(data))), nil //nolint:gosec // G115: bounded by MaxEnvelopeSize
}

// ReadEnvelope reads and decodes the envelope at a packed pointer.
func ReadEnvelope(mod api.Module, packed uint64) (Envelope, error) {
	ptr, length := UnpackPtrLen(packed)
	data, err := Read(mod, ptr, length)
	if err != nil {
		return Envelope{}, err
	}
	return Decode(data)
}

// WriteEnvelope encodes env into guest memory.
func WriteEnvelope(ctx context.Context, mod api.Module, env Envelope) (uint64, error) {
	data, err := Encode(env)
	if err != nil {
		return 0, err
	}
	return Write(ctx, mod, data)
}
