/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package yp defines the YP (Yellow Pages) directory touch-agent
// contract: the shape internal/source's broadcast loop calls into to
// advertise, refresh, and remove a public mount's directory listing. The
// actual HTTP conversation with a YP directory server is out of scope
// (an external collaborator, per spec §1) — Agent is implemented here
// only as a no-op that logs what it would have done, the same role the
// teacher's IcecastURL/IcecastPublicURL config fields play: naming an
// external Icecast-shaped service this process talks to, without owning
// that service's wire protocol.
package yp

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MountInfo is everything a YP directory needs to list a mount: the
// public-facing fields from source.Config relevant to directory display,
// deliberately decoupled from the source package's own Config type so
// this contract doesn't pull in internal/source.
type MountInfo struct {
	Mount       string
	PublicURL   string
	Name        string
	Genre       string
	Description string
	Bitrate     int
	ContentType string
	CurrentSong string
}

// Agent is the touch-agent contract: directory servers are added,
// periodically touched to stay listed, and removed on source shutdown.
type Agent interface {
	// Add registers mount with the directory. Called once when a
	// YPPublic source starts running.
	Add(ctx context.Context, info MountInfo) error

	// Touch refreshes mount's listing before the directory's own
	// timeout would drop it. Called on a fixed interval by the source
	// runtime for as long as the source stays running.
	Touch(ctx context.Context, info MountInfo) error

	// Remove delists mount. Called once when the source stops running.
	Remove(ctx context.Context, mount string) error
}

// TouchInterval is the recommended interval between Touch calls, the
// same cadence legacy YP directories expect to avoid being dropped for
// inactivity.
const TouchInterval = 5 * time.Minute

// NoopAgent is the only Agent implementation provided: it logs the call
// it would have made and returns nil, so internal/source's broadcast
// loop can unconditionally call into an Agent without a nil check, even
// when no real directory integration is configured.
type NoopAgent struct {
	Logger zerolog.Logger
}

// Add logs the registration that would have been sent.
func (a NoopAgent) Add(_ context.Context, info MountInfo) error {
	a.Logger.Debug().Str("mount", info.Mount).Msg("yp: add (no directory configured)")
	return nil
}

// Touch logs the refresh that would have been sent.
func (a NoopAgent) Touch(_ context.Context, info MountInfo) error {
	a.Logger.Debug().Str("mount", info.Mount).Msg("yp: touch (no directory configured)")
	return nil
}

// Remove logs the delisting that would have been sent.
func (a NoopAgent) Remove(_ context.Context, mount string) error {
	a.Logger.Debug().Str("mount", mount).Msg("yp: remove (no directory configured)")
	return nil
}
