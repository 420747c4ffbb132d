/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/source"
)

func TestEngineRunFeedsSourceUntilBodyCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("some bytes of audio"))
	}))
	defer srv.Close()

	rl, err := New(Config{
		Mount:                "/relay",
		URLs:                 []string{srv.URL},
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	registry := source.NewRegistry(0)
	e := &Engine{
		Relay:    rl,
		Registry: registry,
		Config:   source.Config{MountName: "/relay", BurstSize: 1 << 20, QueueSizeLimit: 1 << 20},
		Format:   func() source.FormatHandler { return source.NewRawFormat(64) },
		Logger:   zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Run should return ctx.Err() once the reconnect loop is cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit")
	}
}

func TestEngineOnDemandWaitsForReservation(t *testing.T) {
	rl, err := New(Config{
		Mount:                "/relay",
		URLs:                 []string{"http://127.0.0.1:1"},
		OnDemand:             true,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 1,
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	registry := source.NewRegistry(0)
	e := &Engine{
		Relay:    rl,
		Registry: registry,
		Config:   source.Config{MountName: "/relay"},
		Format:   func() source.FormatHandler { return source.NewRawFormat(64) },
		Logger:   zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_ = e.Run(ctx)
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("on-demand engine should have blocked in waitForDemand rather than dialing out immediately")
	}
}
