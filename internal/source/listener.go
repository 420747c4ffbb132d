/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package source implements the per-mount source runtime: the state
// machine from reserve through running to termination, the broadcast
// queue with its burst buffer, the pending/active listener trees, the
// fallback chain, and priority-based preemption.
package source

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/icecastgo/internal/navhistory"
	"github.com/friendsincode/icecastgo/internal/refbuf"
)

// Listener is a source's view of one attached client: a cursor into the
// broadcast queue, a byte offset within the current node, a pending
// buffer for headers/metadata, and bookkeeping the fallback engine needs.
// internal/listener wraps this with its own send-loop logic; K only owns
// the data the loop reads and mutates.
type Listener struct {
	ID     uint64
	Pending *refbuf.Buffer

	mu          sync.Mutex
	cursor      *refbuf.RefBuf
	cursorOff   int
	bytesSent   int64
	disconDeadline time.Time // zero = unlimited

	OriginMount string // mount this listener originally requested
	History     *navhistory.History

	errored atomic.Bool
}

// NewListener creates a Listener with a fresh pending buffer and history
// stack.
func NewListener(id uint64, originMount string) *Listener {
	return &Listener{
		ID:          id,
		Pending:     refbuf.New(0),
		OriginMount: originMount,
		History:     navhistory.New(),
	}
}

// SetDisconDeadline sets the absolute time after which the listener must
// be disconnected (max_connection_duration). Zero means unlimited.
func (l *Listener) SetDisconDeadline(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconDeadline = t
}

// PastDeadline reports whether the listener's disconnect deadline has
// elapsed.
func (l *Listener) PastDeadline(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.disconDeadline.IsZero() && now.After(l.disconDeadline)
}

// Cursor returns the listener's current queue position.
func (l *Listener) Cursor() (*refbuf.RefBuf, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor, l.cursorOff
}

// Advance moves the cursor strictly forward: to node at byte offset off.
// Per spec.md's queue-monotonicity invariant, callers must never move the
// cursor backward; Advance does not itself verify this (the broadcast
// loop is the only writer and is trusted).
func (l *Listener) Advance(node *refbuf.RefBuf, off int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cursor = node
	l.cursorOff = off
}

// AddBytesSent accumulates bytes written to this listener.
func (l *Listener) AddBytesSent(n int64) {
	atomic.AddInt64(&l.bytesSent, n)
}

// BytesSent returns the total bytes written to this listener.
func (l *Listener) BytesSent() int64 {
	return atomic.LoadInt64(&l.bytesSent)
}

// MarkErrored flags the listener for removal at the broadcast loop's next
// inspection — I/O failures never propagate into business state directly
// (spec.md §7).
func (l *Listener) MarkErrored() {
	l.errored.Store(true)
}

// Errored reports whether the listener has been flagged for removal.
func (l *Listener) Errored() bool {
	return l.errored.Load()
}
