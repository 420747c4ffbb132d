/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package geoip is the contract-only GeoIP annotation lookup spec.md §1
// excludes the implementation body of: an Annotation carries the optional
// country/lat/lon fields spec.md §3's Connection data model lists, and
// Lookup is the interface a real MaxMind-DB-backed implementation would
// satisfy. NoopLookup is the only implementation shipped, the same
// "always available, does nothing, logs at debug" shape internal/yp's
// NoopAgent uses for its own contract-only directory integration.
package geoip

import (
	"context"

	"github.com/rs/zerolog"
)

// Annotation is the optional per-connection geo annotation spec.md §3
// lists on Connection: an ISO 3166-1 alpha-2 country code and an optional
// lat/lon pair, each independently present or absent (a database may
// resolve country without coordinates, or neither).
type Annotation struct {
	Country string // ISO 3166-1 alpha-2, lowercased; "" if unresolved

	Latitude     float64
	HaveLatitude bool

	Longitude     float64
	HaveLongitude bool
}

// Lookup resolves a peer IP to an Annotation. The second return value
// reports whether any database entry was found at all.
type Lookup interface {
	Lookup(ctx context.Context, peerIP string) (Annotation, bool)
}

// NoopLookup never resolves anything — the behavior of a nil geoip_db_t
// in the original (no database configured, or built without MaxMindDB
// support), preserved here since no MaxMind Go driver is part of this
// module's dependency set.
type NoopLookup struct {
	Logger zerolog.Logger
}

// Lookup always reports no match.
func (n NoopLookup) Lookup(_ context.Context, peerIP string) (Annotation, bool) {
	n.Logger.Debug().Str("peer_ip", peerIP).Msg("geoip: lookup (no database configured)")
	return Annotation{}, false
}
