// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

type lockKey struct{}

// execLock serializes every guest execution in the process.
//
// Ownership travels in the context: a call made with a context derived from
// one that holds the lock re-enters instead of acquiring it again. wazero
// hands the calling context to host functions, so a host function that calls
// back into a guest does not deadlock.
//
// Each holder gets a frame with its own mutex. Re-entrant calls through the
// same frame take that mutex, so goroutines sharing a held context run their
// nested calls one at a time, and a holder does not give up the lock until
// every nested call made through its frame has finished.
//
// A panic while the lock is held poisons it for good.
type execLock struct {
	sem      chan struct{}
	poisoned atomic.Bool
}

// frame is one holder of the lock.
type frame struct {
	lock *execLock
	sem  chan struct{}
	done bool // guarded by sem
}

func newExecLock() *execLock {
	return &execLock{sem: make(chan struct{}, 1)}
}

// frameOf returns the frame ctx holds on l, or nil.
func (l *execLock) frameOf(ctx context.Context) *frame {
	f, _ := ctx.Value(lockKey{}).(*frame)
	if f == nil || f.lock != l {
		return nil
	}
	return f
}

func poisonedError() error {
	return oops.In("wasm").
		Code(errutil.CodeLockPoisoned).
		Errorf("plugin runtime is wedged: a previous call panicked while holding the execution lock")
}

// run calls fn with the lock held.
func (l *execLock) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.poisoned.Load() {
		return poisonedError()
	}
	if f := l.frameOf(ctx); f != nil {
		select {
		case f.sem <- struct{}{}:
		case <-ctx.Done():
			return waitError(ctx)
		}
		if !f.done {
			defer func() { <-f.sem }()
			if l.poisoned.Load() {
				return poisonedError()
			}
			return l.enter(ctx, fn)
		}
		// The holder already let go; fall through and queue like anyone else.
		<-f.sem
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return waitError(ctx)
	}
	defer func() { <-l.sem }()

	if l.poisoned.Load() {
		return poisonedError()
	}
	return l.enter(ctx, fn)
}

// enter runs fn under a fresh frame and closes the frame once fn and every
// call nested through it have returned.
func (l *execLock) enter(ctx context.Context, fn func(ctx context.Context) error) error {
	f := &frame{lock: l, sem: make(chan struct{}, 1)}
	defer func() {
		f.sem <- struct{}{}
		f.done = true
		<-f.sem
	}()
	return l.guard(context.WithValue(ctx, lockKey{}, f), fn)
}

func (l *execLock) guard(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.poisoned.Store(true)
			err = oops.In("wasm").
				Code(errutil.CodeLockPoisoned).
				With("panic", fmt.Sprint(r)).
				Errorf("plugin runtime is wedged: panic while holding the execution lock: %v", r)
		}
	}()
	return fn(ctx)
}

func waitError(ctx context.Context) error {
	b := oops.In("wasm").With("waiting_for", "execution lock")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b = b.Code(errutil.CodeCallTimeout)
	}
	return b.Wrap(ctx.Err())
}
