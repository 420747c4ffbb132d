/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package objref implements the reference-counted handle discipline shared
// by every long-lived entity in the server (sources, connections, clients).
// It is intentionally tiny: Go already garbage-collects memory, but the
// server still needs deterministic "run this cleanup exactly once, when the
// last holder lets go" semantics, which refcounting gives us independent of
// the GC.
package objref

import (
	"sync"
	"sync/atomic"
)

// FreeFunc runs exactly once, when a Ref's count reaches zero. It receives
// the user data passed to New.
type FreeFunc func(userdata any)

// Ref is a refcounted, optionally named handle to a shared entity. The zero
// value is not usable; construct with New.
type Ref struct {
	mu         sync.Mutex
	count      int32
	name       string
	userdata   any
	associated *Ref
	free       FreeFunc
	freed      bool
}

// New creates a Ref with an initial count of 1. associated, if non-nil, is
// released (unreffed) after free runs for this object — expressing "my
// lifetime ends no later than this other object's".
func New(userdata any, name string, associated *Ref, free FreeFunc) *Ref {
	return &Ref{
		count:      1,
		name:       name,
		userdata:   userdata,
		associated: associated,
		free:       free,
	}
}

// Ref increments the count. It is a no-op on a nil handle, matching the
// "ref fails only on a null handle" contract — callers on a nil Ref simply
// get nothing to hold.
func (r *Ref) Ref() *Ref {
	if r == nil {
		return nil
	}
	atomic.AddInt32(&r.count, 1)
	return r
}

// Unref decrements the count and runs the free callback exactly once when
// it reaches zero. Unref on a nil handle is a no-op (idempotent destroy).
func (r *Ref) Unref() {
	if r == nil {
		return
	}
	n := atomic.AddInt32(&r.count, -1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("objref: refcount went negative")
	}

	r.mu.Lock()
	alreadyFreed := r.freed
	r.freed = true
	userdata := r.userdata
	free := r.free
	associated := r.associated
	r.mu.Unlock()

	if alreadyFreed {
		return
	}
	if free != nil {
		free(userdata)
	}
	// The associated reference is released only after this object's own
	// free callback returns, never before.
	associated.Unref()
}

// UserData returns the stored user pointer.
func (r *Ref) UserData() any {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userdata
}

// SetUserData replaces the stored user pointer.
func (r *Ref) SetUserData(v any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userdata = v
}

// Name returns the handle's optional name. A name is how "weak" links are
// expressed elsewhere: holding a Ref's name, not the Ref itself, doesn't
// keep the object alive.
func (r *Ref) Name() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// Associated returns the associated object, without taking a reference on
// it — callers that need to keep it alive must Ref it themselves.
func (r *Ref) Associated() *Ref {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.associated
}

// Count returns the current reference count, for tests and diagnostics.
func (r *Ref) Count() int32 {
	if r == nil {
		return 0
	}
	return atomic.LoadInt32(&r.count)
}
