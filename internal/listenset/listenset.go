/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package listenset owns the server's bound listen sockets and implements
// reconfigure-in-place: swapping in a new ordered list of listener
// configurations without dropping sockets whose bind address and port
// didn't change.
package listenset

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/geoip"
)

// SocketType distinguishes a real OS socket from one that exists only for
// policy/advertising purposes.
type SocketType int

const (
	// TypeNormal owns an OS socket and accepts connections.
	TypeNormal SocketType = iota
	// TypeVirtual is "advertised for policy but no OS socket" — it is
	// never dialed or accepted on, only consulted by resource rewrite
	// rules that reference it by id.
	TypeVirtual
)

// Config is one entry of the ordered listener-config list passed to
// Reconfigure.
type Config struct {
	ID          string
	BindAddress string
	Port        int
	Type        SocketType
	OnBehalfOf  string // id of another Config this one defers to, if any
}

func (c Config) identity() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// socket is one adopted or newly created OS listener plus its current
// config snapshot.
type socket struct {
	cfg Config
	ln  net.Listener
}

// Conn is a connection accepted through the set, tagged with which
// listen-socket produced it and, if that socket names another via
// OnBehalfOf, the effective listen-socket as well.
type Conn struct {
	net.Conn
	ListenConfig    Config
	EffectiveConfig Config

	// GeoIP is the optional country/lat/lon annotation spec.md §3 lists
	// on Connection, filled in (if at all) by the caller after Accept via
	// a geoip.Lookup — the zero value means "not resolved", matching the
	// Annotation.Country == "" / Have* == false default.
	GeoIP geoip.Annotation
}

// Set owns the currently bound sockets and accepts new connections across
// all of them.
type Set struct {
	mu      sync.RWMutex
	sockets map[string]*socket // keyed by identity()
	byID    map[string]Config
	logger  zerolog.Logger
}

// New creates an empty Set.
func New(logger zerolog.Logger) *Set {
	return &Set{
		sockets: make(map[string]*socket),
		byID:    make(map[string]Config),
		logger:  logger.With().Str("component", "listenset").Logger(),
	}
}

// Reconfigure applies configs: for each entry, an existing bound socket
// matching (bind_address, port) is adopted with the new config snapshot;
// otherwise a new socket is created. After the swap, every previously-held
// socket that was not adopted is closed. Listen failures are logged and
// leave that entry unusable without aborting the whole reconfigure.
func (s *Set) Reconfigure(configs []Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*socket, len(configs))
	nextByID := make(map[string]Config, len(configs))
	var firstErr error

	for _, cfg := range configs {
		nextByID[cfg.ID] = cfg
		if cfg.Type == TypeVirtual {
			continue
		}
		key := cfg.identity()
		if existing, ok := s.sockets[key]; ok {
			existing.cfg = cfg
			next[key] = existing
			delete(s.sockets, key)
			continue
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port))
		if err != nil {
			s.logger.Error().Err(err).Str("bind", key).Msg("listen failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		next[key] = &socket{cfg: cfg, ln: ln}
	}

	// Release every previously-held socket that wasn't adopted.
	for key, old := range s.sockets {
		if err := old.ln.Close(); err != nil {
			s.logger.Warn().Err(err).Str("bind", key).Msg("error closing released socket")
		}
	}

	s.sockets = next
	s.byID = nextByID
	return firstErr
}

// ErrTimeout is returned when no socket became readable within the poll
// timeout — the canonical "nothing happened this tick" outcome, not an
// error condition callers need to log.
var ErrTimeout = fmt.Errorf("listenset: accept poll timed out")

// Accept polls all bound sockets with the given timeout and returns the
// first ready connection, tagged with its producing listen-socket and
// resolved effective listen-socket. Each underlying net.Listener gets a
// deadline for this poll so per-socket goroutines always return, even if
// nothing connects — mirroring the "poll with a small timeout" primitive
// used everywhere else in the core.
func (s *Set) Accept(ctx context.Context, timeout time.Duration) (*Conn, error) {
	s.mu.RLock()
	sockets := make([]*socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.RUnlock()

	if len(sockets) == 0 {
		return nil, fmt.Errorf("listenset: no bound sockets")
	}

	type result struct {
		conn net.Conn
		cfg  Config
		err  error
	}
	results := make(chan result, len(sockets))
	deadline := time.Now().Add(timeout)

	for _, sock := range sockets {
		go func(sock *socket) {
			if tl, ok := sock.ln.(*net.TCPListener); ok {
				_ = tl.SetDeadline(deadline)
			}
			conn, err := sock.ln.Accept()
			results <- result{conn, sock.cfg, err}
		}(sock)
	}

	for i := 0; i < len(sockets); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-results:
			if r.err != nil {
				continue // timeout or transient accept error on this socket
			}
			effective := r.cfg
			s.mu.RLock()
			if r.cfg.OnBehalfOf != "" {
				if target, ok := s.byID[r.cfg.OnBehalfOf]; ok {
					effective = target
				}
			}
			s.mu.RUnlock()
			return &Conn{Conn: r.conn, ListenConfig: r.cfg, EffectiveConfig: effective}, nil
		}
	}
	return nil, ErrTimeout
}

// Close releases every bound socket.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, sock := range s.sockets {
		if err := sock.ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.sockets = make(map[string]*socket)
	return firstErr
}
