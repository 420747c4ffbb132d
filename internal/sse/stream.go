/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sse

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrFellBehind is returned by Stream.WriteNext once the client's cursor
// has aged out of the retention window — the fserve pool drops the
// connection on any non-nil, non-ErrDone error.
var ErrFellBehind = errors.New("sse: client fell behind the retained event window")

// Flusher lets Stream push buffered bytes out immediately after each
// event, mirroring the chunked-transfer flush the teacher's broadcast
// writer performs after every write.
type Flusher interface {
	Flush()
}

// Filter selects which published events a Stream delivers: request-global
// subscribes to every global event; Mount additionally (or instead)
// subscribes to one mount's events. At least one should be set or the
// stream delivers nothing.
type Filter struct {
	Mount  string
	Global bool
}

func (f Filter) matches(ev Event) bool {
	if f.Global && ev.Global {
		return true
	}
	if f.Mount != "" && ev.Mount == f.Mount {
		return true
	}
	return false
}

// Stream is one subscribed SSE client: an fserve.Entry that renders newly
// retained events as `id: <uuid>\r\ndata: <json>\r\n\r\n` frames on every
// poll tick.
type Stream struct {
	ring   *Ring
	filter Filter
	writer io.Writer
	flush  Flusher

	cursor uint64
}

// NewStream creates a Stream. lastEventID is the incoming Last-Event-Id
// header value, if any; when it names an event still held in the ring,
// delivery resumes immediately after it, otherwise delivery starts at the
// oldest retained event (spec.md scenario S6).
func NewStream(ring *Ring, filter Filter, lastEventID string, w io.Writer, flush Flusher) *Stream {
	s := &Stream{ring: ring, filter: filter, writer: w, flush: flush}
	if lastEventID != "" {
		if ev, ok := ring.FindByID(lastEventID); ok {
			s.cursor = ev.Seq
		}
	}
	return s
}

// WriteNext renders every newly retained, filter-matching event since the
// last call. It never returns fserve.ErrDone — an SSE stream runs until
// the client disconnects, the write fails, or the client falls behind the
// retention window.
func (s *Stream) WriteNext(_ time.Time) error {
	events, gap := s.ring.Since(s.cursor)
	if gap {
		return ErrFellBehind
	}

	wrote := false
	for _, ev := range events {
		s.cursor = ev.Seq
		if !s.filter.matches(ev) {
			continue
		}
		if _, err := fmt.Fprintf(s.writer, "id: %s\r\ndata: %s\r\n\r\n", ev.ID, ev.Data); err != nil {
			return err
		}
		wrote = true
	}
	if wrote && s.flush != nil {
		s.flush.Flush()
	}
	return nil
}
