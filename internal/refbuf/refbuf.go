/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package refbuf implements the growable append buffer and the
// reference-counted queue-node type used as both a client's pending output
// and as a node in a source's broadcast queue.
package refbuf

import (
	"errors"
	"sync"

	"github.com/friendsincode/icecastgo/internal/objref"
)

// ErrDoneExceedsRequest is returned by ZerocopyComplete when the caller
// claims more bytes than fit in the buffer's allocated capacity past fill.
var ErrDoneExceedsRequest = errors.New("refbuf: done exceeds requested")

const allocationRound = 64

// roundUp64 rounds n up to the next multiple of 64, matching the
// allocation granularity the broadcast path expects (amortizes growth for
// the steady trickle of small audio frames).
func roundUp64(n int) int {
	if n%allocationRound == 0 {
		return n
	}
	return ((n / allocationRound) + 1) * allocationRound
}

// Buffer is a growable byte region: buffer/length (allocated capacity),
// fill (bytes used, includes offset bytes already logically shifted out),
// offset (leading bytes shifted out without copying).
type Buffer struct {
	mu     sync.Mutex
	buf    []byte
	fill   int
	offset int
}

// New creates an empty Buffer. hint preallocates capacity; 0 means no
// preallocation.
func New(hint int) *Buffer {
	b := &Buffer{}
	if hint > 0 {
		b.buf = make([]byte, roundUp64(hint))
	}
	return b
}

// Preallocate grows capacity to at least n bytes. It is a hint: failure
// (which cannot happen with Go's allocator short of OOM) leaves the buffer
// usable at its prior capacity.
func (b *Buffer) Preallocate(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grow(n)
}

func (b *Buffer) grow(n int) {
	if len(b.buf) >= n {
		return
	}
	target := roundUp64(n)
	nb := make([]byte, target)
	copy(nb, b.buf[:b.fill])
	b.buf = nb
}

// Append copies p onto the tail, growing as needed.
func (b *Buffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grow(b.fill + len(p))
	copy(b.buf[b.fill:], p)
	b.fill += len(p)
}

// Shift moves the logical start forward by n bytes without copying the
// remaining data — the offset only grows, it is never reused as a ring.
func (b *Buffer) Shift(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 || b.offset+n > b.fill {
		return errors.New("refbuf: shift out of range")
	}
	b.offset += n
	return nil
}

// ZerocopyPushRequest returns a slice into the buffer's tail of length n
// for the caller to write into directly (e.g. conn.Read), growing the
// backing array if needed. The caller must follow with Complete(done).
func (b *Buffer) ZerocopyPushRequest(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grow(b.fill + n)
	return b.buf[b.fill : b.fill+n]
}

// ZerocopyComplete commits done bytes (as written into the slice returned
// by the preceding ZerocopyPushRequest) to fill. It returns
// ErrDoneExceedsRequest only when done exceeds the allocated capacity past
// fill; a done larger than the last request but within the (64-byte
// rounded) capacity is accepted and is not detected.
func (b *Buffer) ZerocopyComplete(done int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fill+done > len(b.buf) {
		return ErrDoneExceedsRequest
	}
	b.fill += done
	return nil
}

// Bytes returns the logical window [offset, fill) — the data not yet
// shifted out.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf[b.offset:b.fill]
}

// Len returns the logical length (fill - offset).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fill - b.offset
}

// GetString returns the logical window as a string, null-terminated in
// the underlying storage (the buffer grows by one byte if needed); the
// terminator itself is not counted in fill/Len.
func (b *Buffer) GetString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grow(b.fill + 1)
	b.buf[b.fill] = 0
	return string(b.buf[b.offset:b.fill])
}

// SyncPoint flags a RefBuf as a codec-level framing boundary (e.g. an MP3
// frame start), the point from which a newly attached listener's decoder
// can synchronize.
type SyncPoint struct {
	Present bool
	Offset  int
}

// RefBuf is a refcounted queue node: the unit chained into a source's
// broadcast queue and, singly, held as a client's pending output.
type RefBuf struct {
	*objref.Ref
	Data      []byte
	Sync      SyncPoint
	nextMu    sync.Mutex
	next      *RefBuf
}

// NewRefBuf wraps data (copied) in a new refcounted queue node with an
// initial count of 1.
func NewRefBuf(data []byte) *RefBuf {
	cp := make([]byte, len(data))
	copy(cp, data)
	rb := &RefBuf{Data: cp}
	rb.Ref = objref.New(rb, "", nil, nil)
	return rb
}

// Next returns the next node in the queue chain.
func (rb *RefBuf) Next() *RefBuf {
	rb.nextMu.Lock()
	defer rb.nextMu.Unlock()
	return rb.next
}

// SetNext links rb to the next node. Only the producing source thread ever
// calls this — nodes are appended at the tail, never re-linked.
func (rb *RefBuf) SetNext(next *RefBuf) {
	rb.nextMu.Lock()
	defer rb.nextMu.Unlock()
	rb.next = next
}
