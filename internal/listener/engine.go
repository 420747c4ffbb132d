/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package listener implements the per-listener broadcast engine: the send
// loop that drains a source's broadcast queue into one attached client's
// socket, detects slow consumers, and keeps the connection alive between
// writes. It is built on top of internal/source.Listener, which owns the
// cursor/pending-buffer state the source's own broadcast thread also reads.
package listener

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/source"
)

// Flusher is satisfied by http.ResponseWriter (via http.Flusher) and by
// anything else that can force buffered bytes out immediately — the same
// abstraction the teacher's broadcast.Mount.ServeHTTP uses to paper over
// wrapped ResponseWriters.
type Flusher interface {
	Flush()
}

const (
	defaultKeepalive = 30 * time.Second
	defaultPoll      = 50 * time.Millisecond
)

// Engine drives one listener's output loop against a source's broadcast
// queue. Unlike the teacher's channel-fed client, the queue here is
// cursor-based (a shared, refcounted RefBuf chain), so the engine polls
// for new tail data on a short interval rather than blocking on a
// per-client channel send from the producer — this is what lets a single
// slow listener fall behind without ever blocking the broadcast thread.
type Engine struct {
	Listener *source.Listener
	Source   *source.Source
	Format   source.FormatHandler
	Writer   io.Writer
	Flush    Flusher
	Logger   zerolog.Logger

	KeepaliveInterval time.Duration
	PollInterval      time.Duration
}

// Run writes the format's header prelude, then streams broadcast-queue
// bytes to the listener until ctx is cancelled, a write fails, the
// listener is flagged errored, or it is dropped as a slow consumer. It
// always removes the listener from the source's client tree on exit.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Source.RemoveListener(e.Listener.ID)

	if err := e.Format.ClientSendHeaders(e.Writer, e.Listener); err != nil {
		return err
	}

	keepalive := e.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	poll := e.PollInterval
	if poll <= 0 {
		poll = defaultPoll
	}

	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.Listener.Errored() {
			return nil
		}
		if e.Source.IsSlowConsumer(e.Listener) {
			e.Logger.Warn().Uint64("listener_id", e.Listener.ID).Msg("dropping slow consumer")
			e.Listener.MarkErrored()
			return nil
		}

		wrote, err := e.writeAvailable()
		if err != nil {
			return err
		}

		if wrote > 0 {
			if e.Flush != nil {
				e.Flush.Flush()
			}
			resetTimer(timer, keepalive)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if e.Flush != nil {
				e.Flush.Flush()
			}
			timer.Reset(keepalive)
		case <-time.After(poll):
		}
	}
}

// writeAvailable drains whatever the format handler will currently accept
// from the listener's cursor position, advancing the cursor and bytes-sent
// counter, and returns the total bytes written in this pass.
func (e *Engine) writeAvailable() (int, error) {
	total := 0
	for {
		node, off := e.Listener.Cursor()
		if node == nil {
			return total, nil
		}
		newNode, newOff, n, err := e.Format.WriteToClient(e.Writer, e.Listener, node, off)
		if n > 0 {
			e.Listener.AddBytesSent(int64(n))
			total += n
		}
		if err != nil {
			return total, err
		}
		if newNode == node && newOff == off {
			// The format made no progress (e.g. the underlying writer is
			// momentarily full); stop for this pass rather than spin.
			return total, nil
		}
		e.Listener.Advance(newNode, newOff)
		if newNode == nil {
			return total, nil
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
