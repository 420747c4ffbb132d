/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package listener

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/refbuf"
	"github.com/friendsincode/icecastgo/internal/source"
)

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush() { f.n++ }

func testSourceWithQueue(data ...string) (*source.Source, *source.Listener) {
	cfg := source.Config{BurstSize: 1 << 20, QueueSizeLimit: 1 << 20}
	s := source.New("/live", cfg)
	for _, d := range data {
		s.AppendToQueue(refbuf.NewRefBuf([]byte(d)))
	}
	l := source.NewListener(1, "/live")
	s.AddPending(l)
	s.MergePending()
	return s, l
}

func TestEngineDrainsQueueThenBlocksOnContext(t *testing.T) {
	s, l := testSourceWithQueue("hello", " world")
	var buf bytes.Buffer
	flusher := &countingFlusher{}

	e := &Engine{
		Listener:     l,
		Source:       s,
		Format:       source.NewRawFormat(16),
		Writer:       &buf,
		Flush:        flusher,
		Logger:       zerolog.Nop(),
		PollInterval: 2 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	if err == nil {
		t.Fatalf("Run should return ctx.Err() once the queue drains and ctx expires")
	}
	if buf.String() != "hello world" {
		t.Fatalf("buf = %q, want %q", buf.String(), "hello world")
	}
	if flusher.n == 0 {
		t.Fatalf("expected at least one flush")
	}
	if s.CurrentListeners() != 0 {
		t.Fatalf("listener should be removed from the client tree on exit")
	}
}

func TestEngineDropsSlowConsumer(t *testing.T) {
	// BurstSize is large enough that AdvanceBurstPoint never trims these
	// two nodes out from under the test; QueueSizeLimit is small enough
	// that a cursor stuck on the first node is immediately over budget
	// once a second node lands ahead of it.
	cfg := source.Config{BurstSize: 1 << 20, QueueSizeLimit: 5}
	s := source.New("/live", cfg)
	s.AppendToQueue(refbuf.NewRefBuf([]byte("0123456789")))

	l := source.NewListener(1, "/live")
	s.AddPending(l)
	s.MergePending() // cursor starts at the burst point: the first node

	s.AppendToQueue(refbuf.NewRefBuf([]byte("abcdefghij"))) // tail moves on

	e := &Engine{
		Listener:     l,
		Source:       s,
		Format:       source.NewRawFormat(16),
		Writer:       &bytes.Buffer{},
		Logger:       zerolog.Nop(),
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run should return nil when it drops a slow consumer, got %v", err)
	}
	if !l.Errored() {
		t.Fatalf("listener should be marked errored after being dropped as slow")
	}
}

func TestEngineStopsOnWriteError(t *testing.T) {
	s, l := testSourceWithQueue("data")
	e := &Engine{
		Listener: l,
		Source:   s,
		Format:   source.NewRawFormat(16),
		Writer:   &erroringWriter{},
		Logger:   zerolog.Nop(),
	}
	err := e.Run(context.Background())
	if err == nil {
		t.Fatalf("Run should propagate a write error")
	}
}

type erroringWriter struct{}

func (w *erroringWriter) Write(p []byte) (int, error) {
	return 0, context.Canceled
}
