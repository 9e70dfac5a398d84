// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"math"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// MaxInstances is the largest number of instances that can be loaded at
// once: ids are non-negative 32-bit integers.
const MaxInstances = math.MaxInt32

// idPool hands out instance ids, reusing released ones first. It is only
// touched under the execution lock.
type idPool struct {
	limit int32
	next  int32
	free  []int32
}

func newIDPool(limit int32) *idPool {
	if limit <= 0 {
		limit = MaxInstances
	}
	return &idPool{limit: limit}
}

func (p *idPool) acquire() (int32, error) {
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		return id, nil
	}
	if p.next >= p.limit {
		return 0, oops.In("wasm").
			Code(errutil.CodeCapacityExceeded).
			With("limit", p.limit).
			Errorf("cannot load more than %d instances", p.limit)
	}
	id := p.next
	p.next++
	return id, nil
}

func (p *idPool) release(id int32) {
	p.free = append(p.free, id)
}

func (p *idPool) outstanding() int {
	return int(p.next) - len(p.free)
}
