/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package netio wraps the socket-level operations the server needs:
// keepalive/nodelay/linger tuning, peer-IP text extraction with
// IPv4-mapped-IPv6 stripping, and connect-with-timeout. It has no
// blocking/non-blocking toggle: Go's net.Conn is always non-blocking under
// the runtime's own poller, and callers bound I/O with deadlines.
package netio

import (
	"context"
	"net"
	"strings"
	"time"
)

// TuneOptions mirrors the socket options the source/listener paths expect
// on every accepted TCP connection.
type TuneOptions struct {
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	NoDelay         bool
	Linger          *time.Duration // nil = OS default
}

// DefaultTuneOptions matches what a streaming server wants on every
// accepted connection: keepalive on, Nagle's algorithm off (so small ICY
// metadata frames aren't delayed).
func DefaultTuneOptions() TuneOptions {
	return TuneOptions{
		KeepAlive:       true,
		KeepAlivePeriod: 30 * time.Second,
		NoDelay:         true,
	}
}

// Tune applies opts to a connection, a no-op for any option unsupported by
// the underlying conn type.
func Tune(conn net.Conn, opts TuneOptions) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetKeepAlive(opts.KeepAlive); err != nil {
		return err
	}
	if opts.KeepAlive {
		if err := tcp.SetKeepAlivePeriod(opts.KeepAlivePeriod); err != nil {
			return err
		}
	}
	if err := tcp.SetNoDelay(opts.NoDelay); err != nil {
		return err
	}
	if opts.Linger != nil {
		if err := tcp.SetLinger(int(opts.Linger.Seconds())); err != nil {
			return err
		}
	}
	return nil
}

// PeerIP returns the textual peer address of conn with any `::ffff:`
// IPv4-mapped-IPv6 prefix stripped, matching how the core reports
// connection.peer_ip to callers that only ever expect dotted-quad or
// plain IPv6.
func PeerIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return StripV4Mapped(host)
}

// StripV4Mapped removes the `::ffff:` prefix from an IPv4-mapped-IPv6
// address's text form, leaving a bare dotted-quad.
func StripV4Mapped(host string) string {
	const prefix = "::ffff:"
	if strings.HasPrefix(host, prefix) {
		if ip := net.ParseIP(host); ip != nil {
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
		}
		return strings.TrimPrefix(host, prefix)
	}
	return host
}

// DialTimeout opens a TCP connection to addr, giving up after timeout.
// This is the connect-with-timeout primitive the relay engine (internal/relay)
// uses to reach upstream servers; Go's net.Dialer already implements this as
// non-blocking connect + readiness wait internally, so no raw SO_ERROR poll
// is needed here.
func DialTimeout(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, network, addr)
}

// IsIPv4Mapped reports whether ip is an IPv4-mapped IPv6 address, i.e. an
// IPv4 address held in the 16-byte `::ffff:a.b.c.d` form (the form
// net.ParseIP returns for every IPv4 text address).
func IsIPv4Mapped(ip net.IP) bool {
	if ip == nil || ip.To4() == nil {
		return false
	}
	return len(ip) == net.IPv6len
}
