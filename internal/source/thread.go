/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/eventbus"
	"github.com/friendsincode/icecastgo/internal/navhistory"
	"github.com/friendsincode/icecastgo/internal/yp"
)

// FallbackResolver locates the Source currently running at mount, if any —
// the broadcast thread uses it to hand listeners off at shutdown without
// the source package importing the registry that owns the mount table.
type FallbackResolver func(mount string) (*Source, bool)

// Runner drives one source's full lifecycle: pulling bytes from body,
// framing them through format, maintaining the broadcast queue, and
// merging/draining listeners every tick — the loop spec.md §4.K calls "the
// heart of the system".
type Runner struct {
	Source   *Source
	Format   FormatHandler
	Body     io.Reader
	Bus      *eventbus.Bus
	Resolver FallbackResolver
	Logger   zerolog.Logger

	// YP is the directory touch-agent this source advertises itself
	// to while s.Config().YPPublic is set. A nil YP (or a YPPublic-false
	// mount) skips the Add/Touch/Remove calls entirely.
	YP yp.Agent

	// TickInterval bounds how long the loop waits for new input before it
	// re-checks listener state (merge pending, evict errored/slow/past
	// deadline). Real streams rarely need this — ReadRefBuf normally
	// blocks on socket I/O — but it guarantees listeners attached to a
	// source that's momentarily silent still get serviced.
	TickInterval time.Duration

	// IdleTimeout is how long an on-demand source with zero listeners
	// runs before the loop exits (spec.md's on-demand relinquish rule).
	IdleTimeout time.Duration
}

// Run executes the source thread until the body is exhausted, the context
// is cancelled, or (for on-demand sources) the idle timeout elapses with no
// listeners attached. It always performs the shutdown fallback handoff and
// releases the source from the registry-facing caller via the returned
// error being nil or non-nil — callers should call Registry.Release after
// Run returns regardless of the error.
func (rn *Runner) Run(ctx context.Context) error {
	s := rn.Source
	if rn.Bus != nil {
		rn.Bus.Publish(eventbus.Event{Trigger: eventbus.TriggerSourceConnect, Mount: s.Mount, SourceInstanceID: s.InstanceUUID})
	}
	if rn.YP != nil && s.Config().YPPublic {
		if err := rn.YP.Add(ctx, rn.ypInfo()); err != nil {
			rn.Logger.Warn().Err(err).Str("mount", s.Mount).Msg("yp add failed")
		}
	}
	defer func() {
		s.SetRunning(false)
		rn.shutdownFallback()
		rn.Format.Free()
		if rn.Bus != nil {
			rn.Bus.Publish(eventbus.Event{Trigger: eventbus.TriggerSourceDisconnect, Mount: s.Mount, SourceInstanceID: s.InstanceUUID})
		}
		if rn.YP != nil && s.Config().YPPublic {
			if err := rn.YP.Remove(context.Background(), s.Mount); err != nil {
				rn.Logger.Warn().Err(err).Str("mount", s.Mount).Msg("yp remove failed")
			}
		}
	}()

	tick := rn.TickInterval
	if tick <= 0 {
		tick = 200 * time.Millisecond
	}
	lastTouch := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.MergePending()
		rn.serviceListeners()

		if rn.YP != nil && s.Config().YPPublic && time.Since(lastTouch) >= yp.TouchInterval {
			if err := rn.YP.Touch(ctx, rn.ypInfo()); err != nil {
				rn.Logger.Warn().Err(err).Str("mount", s.Mount).Msg("yp touch failed")
			}
			lastTouch = time.Now()
		}

		if s.OnDemand() && s.CurrentListeners() == 0 {
			if rn.IdleTimeout > 0 && s.IdleSince(time.Now()) > rn.IdleTimeout {
				rn.Logger.Info().Str("mount", s.Mount).Msg("on-demand source idling out")
				return nil
			}
		}

		rb, err := rn.Format.ReadRefBuf(rn.Body)
		if rb != nil {
			s.AppendToQueue(rb)
			s.AdvanceBurstPoint()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			rn.Logger.Warn().Err(err).Str("mount", s.Mount).Msg("source body read failed")
			return err
		}

		if rb == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(tick):
			}
		}
	}
}

// ypInfo builds the directory-facing snapshot of this source's current
// config for an Add/Touch call.
func (rn *Runner) ypInfo() yp.MountInfo {
	cfg := rn.Source.Config()
	return yp.MountInfo{
		Mount:       rn.Source.Mount,
		ContentType: cfg.HTTPHeaders["content-type"],
	}
}

// serviceListeners drops every attached listener that errored, fell too
// far behind, or exceeded its connection duration. It writes no bytes
// itself; sending queued data to each listener is internal/listener's
// send loop's job.
func (rn *Runner) serviceListeners() {
	s := rn.Source
	now := time.Now()

	var toRemove []uint64
	s.ClientTree.InOrder(func(id uint64, l *Listener) bool {
		if l.Errored() || l.PastDeadline(now) || s.IsSlowConsumer(l) {
			toRemove = append(toRemove, id)
			return true
		}
		return true
	})
	for _, id := range toRemove {
		s.RemoveListener(id)
	}
}

// shutdownFallback hands every remaining attached listener off to the
// mount's fallback chain on shutdown, following fallback_mount and loop
// detection via each listener's navhistory.History. (fallback_override
// governs the reverse direction — a newly arriving source stealing
// listeners back from the fallback chain — and is applied by
// Registry.Complete via stealFromFallbackHolders, not here.) Listeners for
// which no fallback is available (chain exhausted, loop detected, or no
// resolver configured) are simply left attached with nothing more to
// read; the connection-layer send loop is expected to notice and close
// them.
func (rn *Runner) shutdownFallback() {
	s := rn.Source
	if s.Preempted() {
		// The preempting source already owns this mount's listeners;
		// don't also hand them off to a fallback chain.
		return
	}
	cfg := s.Config()
	if cfg.FallbackMount == "" || rn.Resolver == nil {
		return
	}

	var listeners []*Listener
	s.ClientTree.InOrder(func(_ uint64, l *Listener) bool {
		listeners = append(listeners, l)
		return true
	})

	for _, l := range listeners {
		target := cfg.FallbackMount
		if l.History.Contains(target) {
			// Loop detected; nothing more this listener can fall to.
			continue
		}
		next, ok := rn.Resolver(target)
		if !ok {
			continue
		}
		l.History.Push(navhistory.Up, target)
		next.AddPending(l)
	}
}
