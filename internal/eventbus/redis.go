/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig configures the distributed slowevent sink backed by Redis
// pub/sub, an alternative to NATSBackend for deployments that already run
// Redis for other purposes.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// DefaultRedisConfig returns sane defaults for a local Redis instance.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:    "localhost:6379",
		Channel: "icecastgo:events",
	}
}

type redisMessage struct {
	Trigger Trigger   `json:"trigger"`
	Mount   string    `json:"mount"`
	URI     string    `json:"uri"`
	At      time.Time `json:"at"`
}

func marshalMessage(ev Event) ([]byte, error) {
	return json.Marshal(redisMessage{Trigger: ev.Trigger, Mount: ev.Mount, URI: ev.URI, At: ev.Timestamp})
}

func unmarshalMessage(data []byte) (redisMessage, error) {
	var m redisMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// RedisBackend publishes events on a Redis pub/sub channel.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisBackend dials Redis and verifies connectivity with a PING.
func NewRedisBackend(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus: redis ping: %w", err)
	}
	return &RedisBackend{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "eventbus-redis").Logger(),
	}, nil
}

func (b *RedisBackend) Consume(ctx context.Context, ev Event) error {
	payload, err := marshalMessage(ev)
	if err != nil {
		return fmt.Errorf("eventbus: marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.cfg.Channel, payload).Err(); err != nil {
		return fmt.Errorf("eventbus: redis publish: %w", err)
	}
	return nil
}

// Subscribe starts a blocking receive loop invoking fn for every message
// on the configured channel, until ctx is done. Used by a peer instance to
// replay events published by this backend.
func (b *RedisBackend) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := b.client.Subscribe(ctx, b.cfg.Channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn().Err(err).Msg("discarding malformed event message")
				continue
			}
			fn(Event{Trigger: m.Trigger, Mount: m.Mount, URI: m.URI, Timestamp: m.At})
		}
	}
}

// Close releases the underlying Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
