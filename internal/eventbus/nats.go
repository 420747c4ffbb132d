/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSConfig configures the distributed slowevent sink backed by NATS
// JetStream, used to fan events out across instances sharing a mount
// namespace.
type NATSConfig struct {
	URL       string
	Subject   string
	StreamName string
	MaxFails  int32
}

// DefaultNATSConfig returns sane defaults for a single-process deployment
// talking to a local NATS server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:        nats.DefaultURL,
		Subject:    "icecastgo.events",
		StreamName: "ICECASTGO_EVENTS",
		MaxFails:   5,
	}
}

type natsMessage struct {
	Trigger Trigger   `json:"trigger"`
	Mount   string    `json:"mount"`
	URI     string    `json:"uri"`
	At      time.Time `json:"at"`
}

// NATSBackend publishes events to a JetStream stream. It trips a circuit
// breaker after MaxFails consecutive publish failures and, while tripped,
// Consume becomes a cheap no-op rather than blocking the dispatch loop on
// a dead broker.
type NATSBackend struct {
	cfg      NATSConfig
	nc       *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	logger   zerolog.Logger
	failures int32
	tripped  atomic.Bool
}

// NewNATSBackend connects to cfg.URL and ensures the target stream
// exists, mirroring the teacher's own "connect at startup, stream ensured
// once" pattern.
func NewNATSBackend(ctx context.Context, cfg NATSConfig, logger zerolog.Logger) (*NATSBackend, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: jetstream: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.Subject},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: ensure stream: %w", err)
	}
	return &NATSBackend{
		cfg:    cfg,
		nc:     nc,
		js:     js,
		stream: stream,
		logger: logger.With().Str("component", "eventbus-nats").Logger(),
	}, nil
}

func (b *NATSBackend) Consume(ctx context.Context, ev Event) error {
	if b.tripped.Load() {
		return nil
	}
	msg := natsMessage{Trigger: ev.Trigger, Mount: ev.Mount, URI: ev.URI, At: ev.Timestamp}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("eventbus: marshal: %w", err)
	}
	if _, err := b.js.Publish(ctx, b.cfg.Subject, payload); err != nil {
		if atomic.AddInt32(&b.failures, 1) >= b.cfg.MaxFails {
			b.tripped.Store(true)
			b.logger.Warn().Msg("nats sink circuit breaker tripped, falling back to local-only")
		}
		return fmt.Errorf("eventbus: nats publish: %w", err)
	}
	atomic.StoreInt32(&b.failures, 0)
	return nil
}

// Close releases the underlying NATS connection.
func (b *NATSBackend) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
