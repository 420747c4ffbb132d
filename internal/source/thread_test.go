/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/navhistory"
	"github.com/friendsincode/icecastgo/internal/yp"
)

func TestRunnerExitsOnEOF(t *testing.T) {
	s := New("/live", testConfig())
	rn := &Runner{
		Source: s,
		Format: NewRawFormat(16),
		Body:   strings.NewReader("some audio bytes"),
		Logger: zerolog.Nop(),
	}

	done := make(chan error, 1)
	go func() { done <- rn.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on clean EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after body EOF")
	}
	if s.Running() {
		t.Fatalf("source should no longer be running after Run exits")
	}
}

func TestRunnerExitsOnContextCancel(t *testing.T) {
	s := New("/live", testConfig())

	rn := &Runner{
		Source:       s,
		Format:       NewRawFormat(16),
		Body:         &emptyReadsReader{},
		Logger:       zerolog.Nop(),
		TickInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rn.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Run should return ctx.Err() on cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after context cancellation")
	}
}

// fakeYPAgent records calls for assertions instead of talking to a real
// directory server.
type fakeYPAgent struct {
	mu      sync.Mutex
	added   int
	removed int
}

func (a *fakeYPAgent) Add(context.Context, yp.MountInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.added++
	return nil
}

func (a *fakeYPAgent) Touch(context.Context, yp.MountInfo) error { return nil }

func (a *fakeYPAgent) Remove(context.Context, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed++
	return nil
}

func TestRunnerAddsAndRemovesFromYPWhenMountIsPublic(t *testing.T) {
	cfg := testConfig()
	cfg.YPPublic = true
	s := New("/live", cfg)
	agent := &fakeYPAgent{}

	rn := &Runner{
		Source: s,
		Format: NewRawFormat(16),
		Body:   strings.NewReader("some audio bytes"),
		Logger: zerolog.Nop(),
		YP:     agent,
	}

	if err := rn.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()
	if agent.added != 1 {
		t.Fatalf("added = %d, want 1", agent.added)
	}
	if agent.removed != 1 {
		t.Fatalf("removed = %d, want 1", agent.removed)
	}
}

func TestRunnerSkipsYPWhenMountIsNotPublic(t *testing.T) {
	s := New("/live", testConfig())
	agent := &fakeYPAgent{}

	rn := &Runner{
		Source: s,
		Format: NewRawFormat(16),
		Body:   strings.NewReader("some audio bytes"),
		Logger: zerolog.Nop(),
		YP:     agent,
	}

	if err := rn.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()
	if agent.added != 0 || agent.removed != 0 {
		t.Fatalf("added = %d removed = %d, want 0/0 for a non-public mount", agent.added, agent.removed)
	}
}

// emptyReadsReader returns (0, nil) on every Read, simulating a source body
// with nothing currently available without ever reaching EOF — it drives
// the runner's idle-tick path so cancellation tests don't need a real
// blocking socket.
type emptyReadsReader struct{}

func (r *emptyReadsReader) Read([]byte) (int, error) { return 0, nil }

func TestShutdownFallbackHandsListenersToFallbackMount(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackMount = "/fallback"
	s := New("/live", cfg)
	l := NewListener(1, "/live")
	s.AddPending(l)
	s.MergePending()

	fallback := New("/fallback", testConfig())
	rn := &Runner{
		Source: s,
		Logger: zerolog.Nop(),
		Resolver: func(mount string) (*Source, bool) {
			if mount == "/fallback" {
				return fallback, true
			}
			return nil, false
		},
	}

	rn.shutdownFallback()

	if fallback.PendingTree.Len() != 1 {
		t.Fatalf("fallback source should have received the listener, pending len = %d", fallback.PendingTree.Len())
	}
	if !l.History.Contains("/fallback") {
		t.Fatalf("listener history should record the fallback hop")
	}
}

func TestShutdownFallbackDetectsLoop(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackMount = "/live"
	s := New("/live", cfg)
	l := NewListener(1, "/live")
	l.History.Push(navhistory.Up, "/live")
	s.AddPending(l)
	s.MergePending()

	calls := 0
	rn := &Runner{
		Source: s,
		Logger: zerolog.Nop(),
		Resolver: func(mount string) (*Source, bool) {
			calls++
			return s, true
		},
	}

	rn.shutdownFallback()

	if calls != 0 {
		t.Fatalf("resolver should not be consulted once a loop is detected, calls = %d", calls)
	}
}

func TestShutdownFallbackSkippedWhenPreempted(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackMount = "/fallback"
	s := New("/live", cfg)
	s.MarkPreempted()

	calls := 0
	rn := &Runner{
		Source: s,
		Logger: zerolog.Nop(),
		Resolver: func(mount string) (*Source, bool) {
			calls++
			return nil, false
		},
	}
	rn.shutdownFallback()
	if calls != 0 {
		t.Fatalf("preempted source should skip fallback handoff entirely")
	}
}
