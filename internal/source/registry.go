/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"fmt"
	"sync"

	"github.com/friendsincode/icecastgo/internal/navhistory"
	"github.com/friendsincode/icecastgo/internal/report"
)

// Registry tracks reserved and running sources, one per mount. Reserve and
// Complete implement the two-phase attach sequence spec.md's dependency
// ordering requires: a mount is claimed (reserved) the instant a SOURCE/PUT
// request's credentials check out, well before the stream body has even
// begun, so a second concurrent request for the same mount fails fast with
// mount-in-use rather than racing to completion.
type Registry struct {
	mu       sync.Mutex
	reserved map[string]struct{}
	sources  map[string]*Source

	globalSourceCount int
	sourceLimit       int

	preemptedIncumbent map[string]*Source
}

// NewRegistry creates an empty Registry bounded by sourceLimit (the global
// concurrent-source cap; 0 or negative means unlimited).
func NewRegistry(sourceLimit int) *Registry {
	return &Registry{
		reserved:           make(map[string]struct{}),
		sources:            make(map[string]*Source),
		sourceLimit:        sourceLimit,
		preemptedIncumbent: make(map[string]*Source),
	}
}

// Reserve claims mount for an incoming source connection. It fails with
// report.ErrMountInUse if the mount is already reserved or running — the
// exact condition spec.md's mount-in-use scenario exercises.
func (r *Registry) Reserve(mount string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[mount]; ok {
		return mountInUseError(mount)
	}
	if _, ok := r.sources[mount]; ok {
		return mountInUseError(mount)
	}
	r.reserved[mount] = struct{}{}
	return nil
}

// Abandon releases a reservation without ever completing it (e.g. the
// source connection dropped before the stream body arrived, or credential
// checks that ran after Reserve failed).
func (r *Registry) Abandon(mount string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, mount)
}

// Complete promotes a reservation to a running Source, enforcing the
// global source-count limit. The caller is responsible for starting the
// source's broadcast thread once this returns successfully.
func (r *Registry) Complete(mount string, cfg Config) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[mount]; !ok {
		return nil, fmt.Errorf("source: complete called without a reservation for %q", mount)
	}
	if r.sourceLimit > 0 && r.globalSourceCount >= r.sourceLimit {
		delete(r.reserved, mount)
		return nil, sourceLimitError()
	}

	s := New(mount, cfg)
	s.SetRunning(true)

	if incumbent, ok := r.preemptedIncumbent[mount]; ok {
		incumbent.ClientTree.InOrder(func(id uint64, l *Listener) bool {
			s.AddPending(l)
			return true
		})
		delete(r.preemptedIncumbent, mount)
	}

	r.sources[mount] = s
	delete(r.reserved, mount)
	r.globalSourceCount++

	r.stealFromFallbackHolders(mount, s)

	return s, nil
}

// stealFromFallbackHolders applies fallback_override on the arrival of
// mount's new source: the running source at the new source's own
// fallback_mount gives up listeners parked on it, per the new source's
// FallbackOverride setting — NONE never steals, ALL steals every
// listener currently parked there, OWN steals only the listeners whose
// OriginMount was mount itself. Called with r.mu already held.
func (r *Registry) stealFromFallbackHolders(mount string, target *Source) {
	cfg := target.Config()
	for otherMount, holder := range r.sources {
		if otherMount == mount || otherMount != cfg.FallbackMount || cfg.FallbackOverride == FallbackOverrideNone {
			continue
		}

		var toSteal []*Listener
		holder.ClientTree.InOrder(func(_ uint64, l *Listener) bool {
			if cfg.FallbackOverride == FallbackOverrideAll || l.OriginMount == mount {
				toSteal = append(toSteal, l)
			}
			return true
		})

		for _, l := range toSteal {
			holder.RemoveListener(l.ID)
			l.History.Push(navhistory.Down, "")
			target.AddPending(l)
		}
	}
}

// Release removes a completed source (the broadcast thread has exited) and
// decrements the global source count.
func (r *Registry) Release(mount string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[mount]; !ok {
		return
	}
	delete(r.sources, mount)
	r.globalSourceCount--
}

// Lookup returns the running source for mount, if any.
func (r *Registry) Lookup(mount string) (*Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[mount]
	return s, ok
}

// GlobalSourceCount returns the current number of running sources.
func (r *Registry) GlobalSourceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalSourceCount
}

// reportableError carries a report.ID alongside a human-readable error so
// callers above the source package (the dispatcher) can render the
// stable error-id/status/UUID triple without the source package importing
// net/http itself.
type reportableError struct {
	id  report.ID
	msg string
}

func (e *reportableError) Error() string { return e.msg }

// ReportID returns the report.ID a reportableError carries, for dispatcher
// code doing an errors.As-style unwrap.
func (e *reportableError) ReportID() report.ID { return e.id }

func mountInUseError(mount string) error {
	return &reportableError{id: report.ErrMountInUse, msg: fmt.Sprintf("source: mount %q already in use", mount)}
}

func sourceLimitError() error {
	return &reportableError{id: report.ErrSourceLimit, msg: "source: global source limit reached"}
}
