// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasmtest

// Names the host expects of a guest.
const (
	HostModule       = "nvim:api/nvim-api"
	CallCallback     = "nvim:api/client-callback-impl#call-callback"
	DropCallback     = "nvim:api/client-callback-impl#drop-callback"
	PostReturnPrefix = "cabi_post_"
)

// Exported globals a Guest keeps for test assertions.
const (
	GlobalPostCalls   = "post_calls"
	GlobalLastRef     = "last_ref"
	GlobalDroppedRef  = "dropped_ref"
	GlobalDrops       = "drops"
	GlobalInitialized = "initialized"
)

const (
	heapBase = 0x10000
	dataBase = 0x400
	// Pages is the default guest memory size.
	Pages = 4
)

var (
	callSig  = Sig([]ValType{I32, I32}, I64)
	allocSig = Sig([]ValType{I32}, I32)
)

// Guest builds a module that follows the plugin calling convention: it
// exports memory and a bump allocator, and every callable export takes
// (ptr, len) of an argument envelope and returns ptr<<32|len of a result.
type Guest struct {
	m       *Module
	imports map[string]uint32
	dataOff uint32

	heap, postCalls, lastRef, droppedRef, drops, initialized uint32
}

// NewGuest starts a guest importing the named host functions (boundary
// names, e.g. "nvim-get-var") with the standard signature.
func NewGuest(imports ...string) *Guest {
	return NewGuestPages(Pages, imports...)
}

// NewGuestPages is NewGuest with an explicit initial memory size.
func NewGuestPages(pages uint32, imports ...string) *Guest {
	g := &Guest{m: &Module{}, imports: make(map[string]uint32), dataOff: dataBase}
	for _, name := range imports {
		g.imports[name] = g.m.ImportFunc(HostModule, name, callSig)
	}

	g.m.Memory(pages)
	g.m.Export("memory", ExportMemory, 0)

	g.heap = g.m.Global(I32, true, heapBase)
	g.postCalls = g.exportGlobal(GlobalPostCalls)
	g.lastRef = g.exportGlobal(GlobalLastRef)
	g.droppedRef = g.exportGlobal(GlobalDroppedRef)
	g.drops = g.exportGlobal(GlobalDrops)
	g.initialized = g.exportGlobal(GlobalInitialized)

	// allocate(size) returns the current heap top and bumps it.
	alloc := g.m.Func(allocSig, nil,
		GlobalGet(g.heap),
		GlobalGet(g.heap), LocalGet(0), I32Add, GlobalSet(g.heap),
	)
	g.m.Export("allocate", ExportFunc, alloc)
	return g
}

func (g *Guest) exportGlobal(name string) uint32 {
	idx := g.m.Global(I32, true, 0)
	g.m.Export(name, ExportGlobal, idx)
	return idx
}

func increment(global uint32) []byte {
	var out []byte
	out = append(out, GlobalGet(global)...)
	out = append(out, I32Const(1)...)
	out = append(out, I32Add...)
	out = append(out, GlobalSet(global)...)
	return out
}

// Echo exports name returning its argument envelope unchanged.
func (g *Guest) Echo(name string) *Guest {
	g.m.Export(name, ExportFunc, g.m.Func(callSig, nil, PackLocals(0, 1)))
	return g
}

// Trap exports name executing unreachable.
func (g *Guest) Trap(name string) *Guest {
	g.m.Export(name, ExportFunc, g.m.Func(callSig, nil, Unreachable))
	return g
}

// Spin exports name looping forever.
func (g *Guest) Spin(name string) *Guest {
	g.m.Export(name, ExportFunc, g.m.Func(callSig, nil, Spin, Unreachable))
	return g
}

// Constant exports name returning data, placed in a data segment.
func (g *Guest) Constant(name string, data []byte) *Guest {
	off := g.dataOff
	g.m.Data(off, data)
	g.dataOff += uint32(len(data)+7) &^ 7 //nolint:gosec // G115: test data is tiny
	packed := int64(off)<<32 | int64(len(data))
	g.m.Export(name, ExportFunc, g.m.Func(callSig, nil, I64Const(packed)))
	return g
}

// Forward exports name passing its envelope to the imported host function
// and returning the host's result.
func (g *Guest) Forward(name, hostFunc string) *Guest {
	idx, ok := g.imports[hostFunc]
	if !ok {
		panic("wasmtest: " + hostFunc + " was not imported")
	}
	g.m.Export(name, ExportFunc, g.m.Func(callSig, nil, LocalGet(0), LocalGet(1), Call(idx)))
	return g
}

// PostReturn exports the cleanup function for name, counting its calls in
// the post_calls global.
func (g *Guest) PostReturn(name string) *Guest {
	fn := g.m.Func(Sig([]ValType{I64}), nil, increment(g.postCalls))
	g.m.Export(PostReturnPrefix+name, ExportFunc, fn)
	return g
}

// Callbacks exports the callback interface. call-callback records the ref
// in last_ref and echoes its arguments; drop-callback records the ref in
// dropped_ref and counts drops.
func (g *Guest) Callbacks() *Guest {
	call := g.m.Func(Sig([]ValType{I32, I32, I32}, I64), nil,
		LocalGet(0), GlobalSet(g.lastRef),
		PackLocals(1, 2),
	)
	g.m.Export(CallCallback, ExportFunc, call)

	drop := g.m.Func(Sig([]ValType{I32}), nil,
		LocalGet(0), GlobalSet(g.droppedRef),
		increment(g.drops),
	)
	g.m.Export(DropCallback, ExportFunc, drop)
	return g
}

// Initialize exports _initialize, which sets the initialized global.
func (g *Guest) Initialize() *Guest {
	fn := g.m.Func(Sig(nil), nil, I32Const(1), GlobalSet(g.initialized))
	g.m.Export("_initialize", ExportFunc, fn)
	return g
}

// Module exposes the underlying builder for exports outside the convention.
func (g *Guest) Module() *Module {
	return g.m
}

// Bytes encodes the guest.
func (g *Guest) Bytes() []byte {
	return g.m.Bytes()
}
