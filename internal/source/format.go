/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"io"

	"github.com/friendsincode/icecastgo/internal/refbuf"
)

// FormatHandler adapts a source's raw incoming byte stream to the
// broadcast queue and renders per-listener headers, per spec.md §9's
// format-plugin capability set. Implementations are mount-specific: an MP3
// handler frame-syncs and tags SyncPoints, an Ogg handler tracks page
// boundaries, and so on.
type FormatHandler interface {
	// CreateClientData builds any per-listener state the format needs
	// (e.g. an Ogg handler's serialno filter) when a listener is merged
	// into a source's client tree.
	CreateClientData(l *Listener) (any, error)

	// ReadRefBuf pulls the next chunk from r and wraps it as a RefBuf
	// ready for the broadcast queue, or returns io.EOF when the source
	// has nothing more (the source thread treats EOF as producer
	// shutdown).
	ReadRefBuf(r io.Reader) (*refbuf.RefBuf, error)

	// WriteToClient writes as much of the queue starting at (node, off) as
	// the client socket will currently accept, returning the new node/off
	// the listener's cursor should advance to and how many bytes were
	// written.
	WriteToClient(w io.Writer, l *Listener, node *refbuf.RefBuf, off int) (newNode *refbuf.RefBuf, newOff int, n int, err error)

	// ClientSendHeaders writes the format-specific response headers/prelude
	// (e.g. an ICY response line, or an Ogg BOS page) before the first
	// audio bytes.
	ClientSendHeaders(w io.Writer, l *Listener) error

	// Free releases any format-wide resources (decoder state, metadata
	// caches) when the source is torn down.
	Free()
}

// RawFormat is the legacy/default handler: it performs no framing at all,
// treating the source body as an opaque byte stream (spec.md's
// "legacy default" format for content-types with no dedicated handler).
type RawFormat struct {
	readChunk int
}

// NewRawFormat creates a RawFormat reading readChunk bytes per ReadRefBuf
// call (0 selects a sensible default).
func NewRawFormat(readChunk int) *RawFormat {
	if readChunk <= 0 {
		readChunk = 4096
	}
	return &RawFormat{readChunk: readChunk}
}

// CreateClientData returns nil; RawFormat needs no per-listener state.
func (f *RawFormat) CreateClientData(*Listener) (any, error) { return nil, nil }

// ReadRefBuf reads up to readChunk bytes and wraps them as a RefBuf.
func (f *RawFormat) ReadRefBuf(r io.Reader) (*refbuf.RefBuf, error) {
	buf := make([]byte, f.readChunk)
	n, err := r.Read(buf)
	if n > 0 {
		rb := refbuf.NewRefBuf(buf[:n])
		if err == io.EOF {
			return rb, nil
		}
		return rb, err
	}
	return nil, err
}

// WriteToClient writes the queue bytes from (node, off) to the tail,
// advancing as far as a single Write call accepts.
func (f *RawFormat) WriteToClient(w io.Writer, _ *Listener, node *refbuf.RefBuf, off int) (*refbuf.RefBuf, int, int, error) {
	if node == nil {
		return nil, 0, 0, nil
	}
	data := node.Data[off:]
	if len(data) == 0 {
		next := node.Next()
		return next, 0, 0, nil
	}
	n, err := w.Write(data)
	if err != nil {
		return node, off, n, err
	}
	if off+n >= len(node.Data) {
		return node.Next(), 0, n, nil
	}
	return node, off + n, n, nil
}

// ClientSendHeaders writes nothing extra for raw streams.
func (f *RawFormat) ClientSendHeaders(io.Writer, *Listener) error { return nil }

// Free is a no-op for RawFormat.
func (f *RawFormat) Free() {}
