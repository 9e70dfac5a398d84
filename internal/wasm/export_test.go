// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

// ResetService forgets the process-wide runtime so Initialize can be
// exercised more than once.
func ResetService() {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	service = nil
}

// Global reads an exported i32 global of a loaded instance.
func (r *Runtime) Global(id int32, name string) (uint64, bool) {
	r.mu.RLock()
	inst, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	g := inst.mod.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return g.Get(), true
}
