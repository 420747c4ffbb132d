/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fserve implements the generic non-blocking-writable poll loop
// spec.md §4.N describes: a single loop servicing static file transfers,
// stats XML pushes, and SSE event streams alike, each as an Entry that
// gets a bounded-time write attempt every tick rather than its own
// dedicated blocking goroutine.
package fserve

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrDone is returned by Entry.WriteNext to signal the entry completed
// successfully and should be removed from the pool without being treated
// as an error.
var ErrDone = errors.New("fserve: entry complete")

// Entry is one client being serviced by the poll loop: static file bytes,
// a stats push, or an SSE frame source. WriteNext attempts one bounded
// write and reports how far it got; the pool calls it repeatedly, once
// per tick, until it returns ErrDone or another error.
type Entry interface {
	// WriteNext attempts to write the next chunk of data within the given
	// deadline. It returns ErrDone when the entry has nothing more to
	// send (the underlying send completed), or any other error to drop
	// the entry.
	WriteNext(deadline time.Time) error
}

// Pool runs the shared poll loop over a set of registered Entries.
type Pool struct {
	mu      sync.Mutex
	entries map[uint64]Entry
	nextID  uint64

	tick   time.Duration
	logger zerolog.Logger
}

// New creates a Pool polling every tick (spec.md recommends ≤200ms).
func New(tick time.Duration, logger zerolog.Logger) *Pool {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &Pool{
		entries: make(map[uint64]Entry),
		tick:    tick,
		logger:  logger.With().Str("component", "fserve").Logger(),
	}
}

// Register adds entry to the pool and returns a handle usable with
// Unregister.
func (p *Pool) Register(e Entry) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.entries[id] = e
	return id
}

// Unregister removes an entry before it completes on its own (e.g. the
// underlying connection was force-closed elsewhere).
func (p *Pool) Unregister(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}

// Len reports how many entries are currently registered.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Run drives the poll loop until ctx is cancelled, calling WriteNext on
// every registered entry each tick and dropping any that return an error
// (ErrDone included — only the log message differs).
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Pool) pollOnce() {
	p.mu.Lock()
	snapshot := make(map[uint64]Entry, len(p.entries))
	for id, e := range p.entries {
		snapshot[id] = e
	}
	p.mu.Unlock()

	deadline := time.Now().Add(p.tick)
	var toDrop []uint64
	for id, e := range snapshot {
		if err := e.WriteNext(deadline); err != nil {
			if errors.Is(err, ErrDone) {
				p.logger.Debug().Uint64("entry_id", id).Msg("fserve entry completed")
			} else {
				p.logger.Debug().Err(err).Uint64("entry_id", id).Msg("fserve entry dropped")
			}
			toDrop = append(toDrop, id)
		}
	}

	if len(toDrop) == 0 {
		return
	}
	p.mu.Lock()
	for _, id := range toDrop {
		delete(p.entries, id)
	}
	p.mu.Unlock()
}
