/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// defaultQueueCapacity matches spec.md §4.O: the slowevent queue rejects
// pushes once it holds 128 or more pending events rather than growing
// unbounded.
const defaultQueueCapacity = 128

// Registration binds a trigger to a backend. A single trigger may have
// many registrations (global and per-mount).
type Registration struct {
	Trigger Trigger
	Backend Backend
}

// Bus is the slowevent surface: a bounded queue drained by a background
// dispatch goroutine, fanning each event out to every registration whose
// trigger matches.
type Bus struct {
	mu            sync.RWMutex
	registrations map[Trigger][]Registration
	queue         chan Event
	logger        zerolog.Logger

	fast *FastBus
}

// NewBus creates a Bus with the default (128-event) queue capacity.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		registrations: make(map[Trigger][]Registration),
		queue:         make(chan Event, defaultQueueCapacity),
		logger:        logger.With().Str("component", "eventbus").Logger(),
		fast:          NewFastBus(),
	}
}

// Fast returns the bus's paired fastevent hook table.
func (b *Bus) Fast() *FastBus { return b.fast }

// Register adds a registration for trigger. Each dispatch copies the
// trigger's registration list under the bus-wide lock (the number of
// registrations is not bounded), so a config change mid-emit doesn't race
// the dispatch loop.
func (b *Bus) Register(reg Registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations[reg.Trigger] = append(b.registrations[reg.Trigger], reg)
}

// Publish enqueues ev for asynchronous dispatch. If the queue is full the
// event is dropped and logged — this never blocks the producer (source
// thread, dispatcher, etc.).
func (b *Bus) Publish(ev Event) {
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn().Str("trigger", string(ev.Trigger)).Msg("slowevent queue full, dropping event")
	}
}

// Run drains the queue until ctx is done, dispatching each event to every
// matching registration. Backend errors are logged, never propagated.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	regs := append([]Registration(nil), b.registrations[ev.Trigger]...)
	b.mu.RUnlock()

	for _, reg := range regs {
		if err := reg.Backend.Consume(ctx, ev); err != nil {
			b.logger.Error().Err(err).Str("trigger", string(ev.Trigger)).Msg("event backend failed")
		}
	}
}

// QueueDepth reports the number of events currently queued, for stats.
func (b *Bus) QueueDepth() int {
	return len(b.queue)
}

// FastHook is an inline, synchronous subscriber invoked under the fast
// bus's read lock — it must not block or it stalls every other emit on
// the same trigger.
type FastHook func(Payload)

// Payload is the typed extras set delivered to a fastevent hook.
type Payload map[string]any

// FastBus is the fastevent surface: synchronous, in-path hooks keyed by
// trigger, for notifications like CLIENT_AUTHED or CONNECTION_READ where
// the caller needs the hook to have run before it continues.
type FastBus struct {
	mu    sync.RWMutex
	hooks map[Trigger][]FastHook
}

// NewFastBus creates an empty fastevent hook table.
func NewFastBus() *FastBus {
	return &FastBus{hooks: make(map[Trigger][]FastHook)}
}

// Subscribe registers hook to run on every Emit for trigger.
func (f *FastBus) Subscribe(trigger Trigger, hook FastHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[trigger] = append(f.hooks[trigger], hook)
}

// Emit runs every hook registered for trigger synchronously, under a read
// lock. Per the open question in spec.md §9, hooks must never attempt to
// acquire the caller's config lock — Emit only ever hands hooks a value
// snapshot (Payload), never a live config pointer, to make that
// impossible by construction.
func (f *FastBus) Emit(trigger Trigger, payload Payload) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, hook := range f.hooks[trigger] {
		hook(payload)
	}
}

// String implements fmt.Stringer for diagnostics.
func (r Registration) String() string {
	return fmt.Sprintf("%s->%T", r.Trigger, r.Backend)
}
