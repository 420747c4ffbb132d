/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/eventbus"
	"github.com/friendsincode/icecastgo/internal/source"
)

// Engine drives one relay's connect/retry/feed lifecycle against the
// source registry — the relay's equivalent of an external SOURCE client,
// except it is this server dialing out instead of being dialed into.
type Engine struct {
	Relay    *Relay
	Registry *source.Registry
	Config   source.Config
	Format   func() source.FormatHandler
	Bus      *eventbus.Bus
	Resolver source.FallbackResolver
	Logger   zerolog.Logger
}

// Run connects the relay and feeds the resulting stream into the source
// registry under the relay's configured Mount, retrying with backoff up to
// MaxReconnectAttempts between legs, until ctx is cancelled. For an
// on-demand relay, Run waits for a listener request before dialing out at
// all (spec.md's on-demand activation, generalized to relays).
func (e *Engine) Run(ctx context.Context) error {
	mount := e.Relay.cfg.Mount

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.Relay.cfg.OnDemand {
			if !e.waitForDemand(ctx) {
				return ctx.Err()
			}
		}

		if err := e.runOnce(ctx, mount); err != nil {
			e.Logger.Warn().Err(err).Str("mount", mount).Msg("relay feed ended")
		}

		if e.Relay.cfg.OnDemand {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.Relay.cfg.ReconnectDelay):
		}
	}
}

// waitForDemand polls the registry until a source is reserved for mount
// (a listener arriving at an idle on-demand mount asks the dispatcher to
// reserve it, which in turn wakes the relay). It reports false if ctx was
// cancelled first.
func (e *Engine) waitForDemand(ctx context.Context) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	mount := e.Relay.cfg.Mount
	for {
		if _, running := e.Registry.Lookup(mount); running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, mount string) error {
	var attempts int
	var body io.ReadCloser
	var err error

	for attempts = 0; attempts < e.Relay.cfg.MaxReconnectAttempts; attempts++ {
		body, err = e.Relay.ConnectWithFailover(ctx)
		if err == nil {
			break
		}
		e.Logger.Warn().Err(err).Int("attempt", attempts+1).Msg("relay connect attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.Relay.cfg.ReconnectDelay):
		}
	}
	if err != nil {
		return err
	}
	defer body.Close()

	if rerr := e.Registry.Reserve(mount); rerr != nil {
		return rerr
	}
	src, cerr := e.Registry.Complete(mount, e.Config)
	if cerr != nil {
		e.Registry.Abandon(mount)
		return cerr
	}
	defer e.Registry.Release(mount)

	runner := &source.Runner{
		Source:   src,
		Format:   e.Format(),
		Body:     body,
		Bus:      e.Bus,
		Resolver: e.Resolver,
		Logger:   e.Logger,
	}
	return runner.Run(ctx)
}
