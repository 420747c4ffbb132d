/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package connpool drains a queue of freshly-accepted connections through
// a fixed worker pool: each worker reads the request header with a
// deadline, parses it, normalizes the URI, and
// hands the result to the dispatcher.
package connpool

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/httpproto"
	"github.com/friendsincode/icecastgo/internal/listenset"
)

// Handler processes one parsed, normalized request. It owns the
// connection from this point on (closing it is the handler's
// responsibility).
type Handler func(ctx context.Context, conn *listenset.Conn, req *httpproto.Request)

// MetaEvent is a side-channel notification processed between connection
// handling, e.g. "config reread requested".
type MetaEvent struct {
	Kind string
}

// Options configures a Pool.
type Options struct {
	Workers        int
	HeaderTimeout  time.Duration
	MaxHeaderBytes int
}

// Pool is the accept-loop's downstream worker pool.
type Pool struct {
	opts    Options
	handler Handler
	queue   chan *listenset.Conn
	meta    chan MetaEvent
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// New creates a Pool with opts.Workers goroutines, each pulling from a
// shared connection queue.
func New(opts Options, handler Handler, logger zerolog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pool{
		opts:    opts,
		handler: handler,
		queue:   make(chan *listenset.Conn, opts.Workers*4),
		meta:    make(chan MetaEvent, 16),
		logger:  logger.With().Str("component", "connpool").Logger(),
	}
}

// Start launches the worker goroutines. Every worker observes ctx.Done()
// at its next tick and returns — there is no forceful cancellation.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has returned (after ctx is cancelled).
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit enqueues a freshly accepted connection. It returns false (without
// blocking) if the queue is saturated; the caller should close the
// connection in that case.
func (p *Pool) Submit(conn *listenset.Conn) bool {
	select {
	case p.queue <- conn:
		return true
	default:
		return false
	}
}

// PublishMeta enqueues a side-channel meta-event, e.g. a config reread
// request, non-blockingly.
func (p *Pool) PublishMeta(ev MetaEvent) {
	select {
	case p.meta <- ev:
	default:
		p.logger.Warn().Str("kind", ev.Kind).Msg("meta-event queue full, dropping")
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.meta:
			p.logger.Debug().Str("kind", ev.Kind).Msg("meta-event")
		case conn := <-p.queue:
			p.handle(ctx, conn)
		}
	}
}

func (p *Pool) handle(ctx context.Context, conn *listenset.Conn) {
	if tc, ok := conn.Conn.(*net.TCPConn); ok {
		_ = tc.SetDeadline(time.Now().Add(p.opts.HeaderTimeout))
	}

	br := bufio.NewReader(conn)
	req, err := httpproto.Parse(br, p.opts.MaxHeaderBytes)
	if err != nil {
		if !errors.Is(err, httpproto.ErrMalformed) {
			p.logger.Debug().Err(err).Msg("header read failed")
		}
		conn.Close()
		return
	}

	// Legacy bare-password ICY handshakes arrive with no protocol token
	// beyond "ICY" and are accepted here as a SOURCE-equivalent; anything
	// else must claim HTTP or ICE.
	if req.ProtoToken != "HTTP" && req.ProtoToken != "ICE" && req.ProtoToken != "ICY" {
		conn.Close()
		return
	}

	if req.URI != "" {
		normalized, err := httpproto.NormalizeURI(req.URI)
		if err != nil {
			conn.Close()
			return
		}
		req.URI = normalized
	}

	if tc, ok := conn.Conn.(*net.TCPConn); ok {
		_ = tc.SetDeadline(time.Time{}) // clear the header-read deadline
	}

	p.handler(ctx, conn, req)
}
