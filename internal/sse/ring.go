/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sse renders the internal event bus as Server-Sent Events,
// per-client, over a bounded global ring of the most recently published
// events (spec.md §4.P).
package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/icecastgo/internal/eventbus"
)

// DefaultCapacity is the bounded retention window: the 32 most recent
// events are kept, older ones are evicted to make room.
const DefaultCapacity = 32

// Event is one retained entry in the ring: a stable ID (for
// Last-Event-Id resume), a monotonic sequence number (for cursor math),
// and the rendered JSON payload.
type Event struct {
	ID     string
	Seq    uint64
	Mount  string
	Global bool
	Data   []byte
	At     time.Time
}

// Ring is the bounded global event ring shared by every SSE client.
// Appends evict the oldest entry once Capacity is exceeded; clients track
// their own position with a sequence-number cursor rather than holding a
// reference into the ring itself, so eviction never dangles a pointer.
type Ring struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	nextSeq  uint64
}

// NewRing creates a Ring retaining at most capacity events. A
// non-positive capacity falls back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity}
}

// Publish renders ev as JSON and appends it to the ring, marked global
// when it should be visible to clients subscribed without a mount
// filter. It returns the stored Event (with its assigned ID and Seq).
func (r *Ring) Publish(ev eventbus.Event, global bool) (Event, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Event{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	stored := Event{
		ID:     uuid.NewString(),
		Seq:    r.nextSeq,
		Mount:  ev.Mount,
		Global: global,
		Data:   data,
		At:     ev.Timestamp,
	}
	r.events = append(r.events, stored)
	if len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}
	return stored, nil
}

// Since returns every retained event with Seq strictly greater than
// cursor, in order. cursor == 0 is the "unknown position" sentinel and
// always returns every currently retained event (spec.md's S6: an
// unresumable Last-Event-Id resumes at the oldest retained event rather
// than erroring).
//
// gap is true when cursor refers to a position that has already aged out
// of the ring — the caller fell behind the retention window and must
// close the connection per spec.md §4.P.
func (r *Ring) Since(cursor uint64) (events []Event, gap bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == 0 {
		return nil, false
	}
	oldest := r.events[0].Seq
	if cursor != 0 && cursor < oldest-1 {
		return nil, true
	}
	for _, ev := range r.events {
		if ev.Seq > cursor {
			events = append(events, ev)
		}
	}
	return events, false
}

// FindByID looks up an event still held in the ring by its stable ID, for
// resolving an incoming Last-Event-Id header. ok is false if the ID is
// unknown or has already been evicted.
func (r *Ring) FindByID(id string) (ev Event, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}
