/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"errors"
	"testing"

	"github.com/friendsincode/icecastgo/internal/navhistory"
	"github.com/friendsincode/icecastgo/internal/report"
)

func TestReserveThenReserveAgainFailsMountInUse(t *testing.T) {
	r := NewRegistry(0)
	if err := r.Reserve("/live"); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	err := r.Reserve("/live")
	if err == nil {
		t.Fatalf("second concurrent Reserve should fail")
	}
	var rerr *reportableError
	if !errors.As(err, &rerr) || rerr.ReportID() != report.ErrMountInUse {
		t.Fatalf("expected mount-in-use report id, got %v", err)
	}
}

func TestCompleteWithoutReserveErrors(t *testing.T) {
	r := NewRegistry(0)
	if _, err := r.Complete("/live", testConfig()); err == nil {
		t.Fatalf("Complete without Reserve should error")
	}
}

func TestReserveCompleteLookupRoundTrip(t *testing.T) {
	r := NewRegistry(0)
	if err := r.Reserve("/live"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	s, err := r.Complete("/live", testConfig())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, ok := r.Lookup("/live")
	if !ok || got != s {
		t.Fatalf("Lookup did not return the completed source")
	}
	if r.GlobalSourceCount() != 1 {
		t.Fatalf("GlobalSourceCount() = %d, want 1", r.GlobalSourceCount())
	}

	// Once running, a fresh Reserve attempt for the same mount must also
	// fail mount-in-use.
	if err := r.Reserve("/live"); err == nil {
		t.Fatalf("Reserve against a running source should fail")
	}
}

func TestReleaseFreesMountForReuse(t *testing.T) {
	r := NewRegistry(0)
	r.Reserve("/live")
	r.Complete("/live", testConfig())
	r.Release("/live")

	if _, ok := r.Lookup("/live"); ok {
		t.Fatalf("source should be gone after Release")
	}
	if r.GlobalSourceCount() != 0 {
		t.Fatalf("GlobalSourceCount() = %d, want 0", r.GlobalSourceCount())
	}
	if err := r.Reserve("/live"); err != nil {
		t.Fatalf("Reserve after Release should succeed: %v", err)
	}
}

func TestSourceLimitRejectsBeyondCap(t *testing.T) {
	r := NewRegistry(1)
	r.Reserve("/a")
	if _, err := r.Complete("/a", testConfig()); err != nil {
		t.Fatalf("first Complete: %v", err)
	}

	r.Reserve("/b")
	_, err := r.Complete("/b", testConfig())
	if err == nil {
		t.Fatalf("Complete beyond source limit should fail")
	}
	var rerr *reportableError
	if !errors.As(err, &rerr) || rerr.ReportID() != report.ErrSourceLimit {
		t.Fatalf("expected source-limit report id, got %v", err)
	}
	// The failed reservation must also be released, not left dangling.
	if err := r.Reserve("/b"); err != nil {
		t.Fatalf("Reserve for /b should be available again: %v", err)
	}
}

func TestAbandonReleasesReservationWithoutCompleting(t *testing.T) {
	r := NewRegistry(0)
	r.Reserve("/live")
	r.Abandon("/live")
	if err := r.Reserve("/live"); err != nil {
		t.Fatalf("Reserve after Abandon should succeed: %v", err)
	}
}

// fallbackListener attaches a listener to src with a navhistory recording
// it arrived at src directly from originalMount.
func fallbackListener(id uint64, src *Source, originalMount string) *Listener {
	l := NewListener(id, originalMount)
	l.History.Push(navhistory.Up, originalMount)
	src.AddPending(l)
	src.MergePending()
	return l
}

func TestCompleteStealsAllListenersWhenOverrideAll(t *testing.T) {
	r := NewRegistry(0)

	r.Reserve("/fallback")
	fallback, err := r.Complete("/fallback", testConfig())
	if err != nil {
		t.Fatalf("Complete /fallback: %v", err)
	}
	fallbackListener(1, fallback, "/live")
	fallbackListener(2, fallback, "/other")

	cfg := testConfig()
	cfg.FallbackMount = "/fallback"
	cfg.FallbackOverride = FallbackOverrideAll
	r.Reserve("/live")
	live, err := r.Complete("/live", cfg)
	if err != nil {
		t.Fatalf("Complete /live: %v", err)
	}
	live.MergePending()

	if fallback.ClientTree.Len() != 0 {
		t.Fatalf("fallback should have given up every listener under ALL, got %d remaining", fallback.ClientTree.Len())
	}
	if live.ClientTree.Len() != 2 {
		t.Fatalf("live should have gained both listeners under ALL, got %d", live.ClientTree.Len())
	}
}

func TestCompleteStealsOnlyOwnListenersWhenOverrideOwn(t *testing.T) {
	r := NewRegistry(0)

	r.Reserve("/fallback")
	fallback, err := r.Complete("/fallback", testConfig())
	if err != nil {
		t.Fatalf("Complete /fallback: %v", err)
	}
	fallbackListener(1, fallback, "/live")
	fallbackListener(2, fallback, "/other")

	cfg := testConfig()
	cfg.FallbackMount = "/fallback"
	cfg.FallbackOverride = FallbackOverrideOwn
	r.Reserve("/live")
	live, err := r.Complete("/live", cfg)
	if err != nil {
		t.Fatalf("Complete /live: %v", err)
	}
	live.MergePending()

	if fallback.ClientTree.Len() != 1 {
		t.Fatalf("fallback should keep the listener that didn't originate at /live, got %d remaining", fallback.ClientTree.Len())
	}
	if _, ok := fallback.ClientTree.Get(2); !ok {
		t.Fatalf("listener 2 (originated at /other) should remain on fallback")
	}
	if live.ClientTree.Len() != 1 {
		t.Fatalf("live should have reclaimed its own listener under OWN, got %d", live.ClientTree.Len())
	}
	if _, ok := live.ClientTree.Get(1); !ok {
		t.Fatalf("listener 1 (originated at /live) should have been stolen back")
	}
}

func TestCompleteDoesNotStealWhenOverrideNone(t *testing.T) {
	r := NewRegistry(0)

	r.Reserve("/fallback")
	fallback, err := r.Complete("/fallback", testConfig())
	if err != nil {
		t.Fatalf("Complete /fallback: %v", err)
	}
	fallbackListener(1, fallback, "/live")

	cfg := testConfig()
	cfg.FallbackMount = "/fallback"
	cfg.FallbackOverride = FallbackOverrideNone
	r.Reserve("/live")
	live, err := r.Complete("/live", cfg)
	if err != nil {
		t.Fatalf("Complete /live: %v", err)
	}
	live.MergePending()

	if fallback.ClientTree.Len() != 1 {
		t.Fatalf("NONE must never steal listeners, fallback has %d remaining", fallback.ClientTree.Len())
	}
	if live.ClientTree.Len() != 0 {
		t.Fatalf("NONE must never steal listeners, live gained %d", live.ClientTree.Len())
	}
}
