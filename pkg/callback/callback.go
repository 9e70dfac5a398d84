// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package callback tracks guest callbacks the host holds on to.
//
// A guest hands the host a small reference number; the host wraps it with
// the id of the instance that produced it. Handles are reference counted per
// registration: Clone shares a registration, Drop releases one reference, and
// the last Drop notifies the owning instance exactly once.
//
// Equality is on the (instance, ref) pair. Two registrations of the same pair
// are equal but counted independently.
//
// Instance ids are reused after an unload. Orphan marks every registration
// minted so far for an id as belonging to the unloaded instance, so a later
// instance with the same id never sees them.
package callback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
)

// Notifier delivers the drop notification for a released registration. h is
// already released; only its accessors and Orphaned may be used.
type Notifier func(ctx context.Context, h *Handle) error

// Registry owns every live registration and maps registration ids to them.
type Registry struct {
	mu      sync.Mutex
	entries map[uint64]*registration
	nextID  uint64
	notify  Notifier
	live    atomic.Int64
	// orphans maps an instance id to the highest registration id minted
	// before that instance was unloaded.
	orphans map[int32]uint64
}

// NewRegistry creates a registry. notify may be nil.
func NewRegistry(notify Notifier) *Registry {
	return &Registry{
		entries: make(map[uint64]*registration),
		notify:  notify,
		orphans: make(map[int32]uint64),
	}
}

type registration struct {
	id         uint64
	instanceID int32
	ref        uint32
	count      int64 // guarded by Registry.mu
}

// Handle is one strong reference to a registration. The zero value and nil
// are the absent handle. A Handle must not be copied after first use; use
// Clone to take another reference.
type Handle struct {
	reg      *registration
	registry *Registry
	released atomic.Bool
}

// New registers (instanceID, ref) with a count of one. It returns the absent
// handle when instanceID is negative or ref is zero.
func (r *Registry) New(instanceID int32, ref uint32) *Handle {
	if instanceID < 0 || ref == 0 {
		return nil
	}
	r.mu.Lock()
	r.nextID++
	reg := &registration{id: r.nextID, instanceID: instanceID, ref: ref, count: 1}
	r.entries[reg.id] = reg
	r.mu.Unlock()

	r.live.Add(1)
	return &Handle{reg: reg, registry: r}
}

// Acquire looks up a registration by id and returns a new strong reference
// to it. ok is false if the registration has been released.
func (r *Registry) Acquire(id uint64) (h *Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	reg.count++
	return &Handle{reg: reg, registry: r}, true
}

// Live returns the number of registrations not yet released.
func (r *Registry) Live() int64 {
	return r.live.Load()
}

// Count returns the current reference count of the registration behind h, or
// zero if h is absent or released.
func (r *Registry) Count(h *Handle) int64 {
	if h.IsAbsent() {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h.reg.id]; !ok {
		return 0
	}
	return h.reg.count
}

// Orphan detaches every registration minted so far for instanceID from that
// id. Orphaned handles keep their references but are never delivered or
// notified again. Callers must order Orphan before the id is handed to a new
// instance.
func (r *Registry) Orphan(instanceID int32) {
	if instanceID < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphans[instanceID] = r.nextID
}

func (r *Registry) orphaned(reg *registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	watermark, ok := r.orphans[reg.instanceID]
	return ok && reg.id <= watermark
}

// release drops one reference and reports whether it was the last.
func (r *Registry) release(reg *registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg.count--
	if reg.count > 0 {
		return false
	}
	delete(r.entries, reg.id)
	return true
}

// IsAbsent reports whether h refers to no callback.
func (h *Handle) IsAbsent() bool {
	return h == nil || h.reg == nil
}

// InstanceID returns the owning instance, or -1 for the absent handle.
func (h *Handle) InstanceID() int32 {
	if h.IsAbsent() {
		return -1
	}
	return h.reg.instanceID
}

// Ref returns the guest reference number, or 0 for the absent handle.
func (h *Handle) Ref() uint32 {
	if h.IsAbsent() {
		return 0
	}
	return h.reg.ref
}

// ID returns the registry id of the registration, or 0 for the absent handle.
func (h *Handle) ID() uint64 {
	if h.IsAbsent() {
		return 0
	}
	return h.reg.id
}

// Orphaned reports whether the instance that minted h has been unloaded.
// It stays accurate after h is released.
func (h *Handle) Orphaned() bool {
	if h.IsAbsent() {
		return false
	}
	return h.registry.orphaned(h.reg)
}

// Equal compares the (instance, ref) pairs. Two absent handles are equal.
func (h *Handle) Equal(o *Handle) bool {
	if h.IsAbsent() || o.IsAbsent() {
		return h.IsAbsent() && o.IsAbsent()
	}
	return h.reg.instanceID == o.reg.instanceID && h.reg.ref == o.reg.ref
}

// Clone takes another reference to the same registration. Cloning a released
// handle returns the absent handle.
func (h *Handle) Clone() *Handle {
	if h.IsAbsent() || h.released.Load() {
		return nil
	}
	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h.reg.id]; !ok {
		return nil
	}
	h.reg.count++
	return &Handle{reg: h.reg, registry: r}
}

// Drop releases this reference. Dropping the same Handle twice is a no-op.
// When the last reference goes, the owning instance is notified unless it has
// been unloaded; the notification error, if any, is returned.
func (h *Handle) Drop(ctx context.Context) error {
	if h.IsAbsent() || !h.released.CompareAndSwap(false, true) {
		return nil
	}
	r := h.registry
	if !r.release(h.reg) {
		return nil
	}
	r.live.Add(-1)
	if r.notify == nil || h.Orphaned() {
		return nil
	}
	if err := r.notify(ctx, h); err != nil {
		return oops.In("callback").
			With("instance_id", h.reg.instanceID).
			With("ref", h.reg.ref).
			Wrap(err)
	}
	return nil
}

func (h *Handle) String() string {
	if h.IsAbsent() {
		return "callback(absent)"
	}
	if h.Orphaned() {
		return fmt.Sprintf("callback(instance=%d ref=%d orphaned)", h.reg.instanceID, h.reg.ref)
	}
	return fmt.Sprintf("callback(instance=%d ref=%d)", h.reg.instanceID, h.reg.ref)
}
