/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"time"

	"github.com/friendsincode/icecastgo/internal/eventbus"
)

// HealthChecker probes a Relay's current leg on an interval and, when
// AutoRecoverEnabled, checks the primary leg for recovery once a failover
// has occurred. Grounded on the teacher's webstream.HealthChecker loop
// (ticker + reload-config-on-tick + auto-recover-to-primary).
type HealthChecker struct {
	relay *Relay
	bus   *eventbus.Bus
}

// NewHealthChecker creates a HealthChecker for relay. bus may be nil if no
// event should be published on status transitions.
func NewHealthChecker(relay *Relay, bus *eventbus.Bus) *HealthChecker {
	return &HealthChecker{relay: relay, bus: bus}
}

// Run drives the health-check loop until ctx is cancelled. It performs an
// immediate check before entering the ticker loop, matching the teacher's
// "don't wait a full interval before the first result" behavior.
func (hc *HealthChecker) Run(ctx context.Context) {
	hc.tick(ctx)

	ticker := time.NewTicker(hc.relay.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.tick(ctx)
		}
	}
}

func (hc *HealthChecker) tick(ctx context.Context) {
	r := hc.relay
	url := r.CurrentURL()

	err := r.checkURL(ctx, url)
	if err != nil {
		hc.handleFailure(ctx, err)
		return
	}
	hc.handleSuccess(ctx)
}

func (hc *HealthChecker) handleSuccess(ctx context.Context) {
	r := hc.relay
	wasUnhealthy := r.Status() == HealthUnhealthy || r.Status() == HealthDegraded

	r.mu.Lock()
	r.consecutiveFails = 0
	r.mu.Unlock()
	r.setStatus(HealthHealthy)
	hc.publish()

	if wasUnhealthy && r.cfg.AutoRecoverEnabled {
		r.mu.Lock()
		onPrimary := r.currentIndex == 0
		r.mu.Unlock()
		if !onPrimary {
			if err := r.checkURL(ctx, r.PrimaryURL()); err == nil {
				r.ResetToPrimary()
				r.setStatus(HealthHealthy)
				r.logger.Info().Str("url", r.PrimaryURL()).Msg("auto-recovered to primary leg")
				hc.publish()
			}
		}
	}
}

func (hc *HealthChecker) handleFailure(_ context.Context, err error) {
	r := hc.relay
	r.mu.Lock()
	r.consecutiveFails++
	fails := r.consecutiveFails
	r.mu.Unlock()

	if fails >= 3 {
		r.setStatus(HealthUnhealthy)
	} else {
		r.setStatus(HealthDegraded)
	}
	r.logger.Warn().Err(err).Int("consecutive_fails", fails).Msg("relay health check failed")
	hc.publish()
}

func (hc *HealthChecker) publish() {
	if hc.bus == nil {
		return
	}
	hc.bus.Publish(eventbus.Event{
		Trigger: eventbus.TriggerFallback,
		Mount:   hc.relay.cfg.Mount,
	})
}
