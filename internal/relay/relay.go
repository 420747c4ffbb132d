/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay implements the outbound source client: pulling a stream
// from one or more remote servers into a local mount, with on-demand
// activation, retry-with-backoff, and health-checked multi-URL failover.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoURLsConfigured is returned by New when Config.URLs is empty.
var ErrNoURLsConfigured = errors.New("relay: no urls configured")

// Config describes one relay's behavior, grounded on the teacher's
// webstream.Service/models.Webstream field set but held in memory rather
// than in gorm — the relay's hot path never touches the database.
type Config struct {
	Mount    string
	URLs     []string // ordered primary, then failover legs
	OnDemand bool

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	HealthCheckEnabled  bool
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	HealthCheckMethod   string
	AutoRecoverEnabled  bool
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = 5 * time.Second
	}
	if c.HealthCheckMethod == "" {
		c.HealthCheckMethod = http.MethodHead
	}
	return c
}

// HealthStatus mirrors the teacher's webstream health-status enum.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Relay tracks one configured remote source's current leg and health.
type Relay struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	mu               sync.Mutex
	currentIndex     int
	status           HealthStatus
	consecutiveFails int
}

// New creates a Relay. client may be nil to use http.DefaultClient.
func New(cfg Config, client *http.Client, logger zerolog.Logger) (*Relay, error) {
	if len(cfg.URLs) == 0 {
		return nil, ErrNoURLsConfigured
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{
		cfg:    cfg.withDefaults(),
		client: client,
		logger: logger.With().Str("component", "relay").Str("mount", cfg.Mount).Logger(),
		status: HealthUnknown,
	}, nil
}

// CurrentURL returns the leg currently selected for connection attempts.
func (r *Relay) CurrentURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.URLs[r.currentIndex]
}

// PrimaryURL returns the first configured leg.
func (r *Relay) PrimaryURL() string {
	return r.cfg.URLs[0]
}

// FailoverToNext advances to the next configured leg, wrapping is not
// performed — once every leg has been tried the caller should back off and
// retry from the top rather than spin through URLs forever.
func (r *Relay) FailoverToNext() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentIndex >= len(r.cfg.URLs)-1 {
		return "", false
	}
	r.currentIndex++
	return r.cfg.URLs[r.currentIndex], true
}

// ResetToPrimary selects leg 0 again (auto-recovery or manual reset).
func (r *Relay) ResetToPrimary() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentIndex = 0
}

// Status returns the relay's last-recorded health status.
func (r *Relay) Status() HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Relay) setStatus(s HealthStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Connect dials the current leg and returns its response body as the
// stream to feed into a source.Runner. The caller owns closing the body.
func (r *Relay) Connect(ctx context.Context) (io.ReadCloser, error) {
	url := r.CurrentURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("User-Agent", "icecastgo-relay/1.0")
	req.Header.Set("Icy-MetaData", "1")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: connect %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("relay: %s returned HTTP %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// ConnectWithFailover tries the current leg, then each subsequent leg in
// order, until one connects or every leg has been exhausted.
func (r *Relay) ConnectWithFailover(ctx context.Context) (io.ReadCloser, error) {
	body, err := r.Connect(ctx)
	if err == nil {
		return body, nil
	}
	lastErr := err
	for {
		next, ok := r.FailoverToNext()
		if !ok {
			return nil, lastErr
		}
		r.logger.Warn().Err(lastErr).Str("next_url", next).Msg("relay leg failed, failing over")
		body, err := r.Connect(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
}

func (r *Relay) checkURL(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.HealthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.cfg.HealthCheckMethod, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "icecastgo-relay/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("relay: health check %s returned HTTP %d", url, resp.StatusCode)
	}
	return nil
}
