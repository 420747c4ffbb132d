/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatcher

import (
	"bytes"
	"os"
	"time"

	"github.com/friendsincode/icecastgo/internal/fserve"
	"github.com/friendsincode/icecastgo/internal/listenset"
	"github.com/friendsincode/icecastgo/internal/stats"
)

// fileEntry is a static-file transfer driven by the shared fserve.Pool
// rather than a dedicated goroutine: one bounded write attempt per tick
// until the file is exhausted.
type fileEntry struct {
	file      *os.File
	remaining int64
	conn      *listenset.Conn

	buf [32 * 1024]byte
}

// WriteNext reads and writes up to one buffer's worth of the remaining
// file content before deadline. It reports fserve.ErrDone once the whole
// file has been sent, closing both the file and the connection first.
func (e *fileEntry) WriteNext(deadline time.Time) error {
	if e.remaining <= 0 {
		e.close()
		return fserve.ErrDone
	}

	n := int64(len(e.buf))
	if e.remaining < n {
		n = e.remaining
	}
	read, err := e.file.Read(e.buf[:n])
	if read > 0 {
		e.conn.SetWriteDeadline(deadline)
		if _, werr := e.conn.Write(e.buf[:read]); werr != nil {
			e.close()
			return werr
		}
		e.remaining -= int64(read)
	}
	if err != nil {
		e.close()
		if e.remaining <= 0 {
			return fserve.ErrDone
		}
		return err
	}
	if e.remaining <= 0 {
		e.close()
		return fserve.ErrDone
	}
	return nil
}

func (e *fileEntry) close() {
	e.file.Close()
	e.conn.Close()
}

// statsEntry pushes the stats tree's XML snapshot to a long-lived STATS
// client whenever it changes, comparing rendered bytes rather than
// subscribing a per-connection stats.ChangeHook — a hook would never be
// unregistered when the client disconnects and would accumulate for the
// life of the process.
type statsEntry struct {
	stats *stats.Tree
	conn  *listenset.Conn
	last  []byte
}

func newStatsEntry(t *stats.Tree, conn *listenset.Conn) *statsEntry {
	return &statsEntry{stats: t, conn: conn}
}

// WriteNext never completes on its own: a STATS connection stays open
// until the client disconnects or a write fails.
func (e *statsEntry) WriteNext(deadline time.Time) error {
	if e.stats == nil {
		return nil
	}
	body, err := e.stats.ToXML()
	if err != nil {
		return err
	}
	if bytes.Equal(body, e.last) {
		return nil
	}
	e.conn.SetWriteDeadline(deadline)
	if _, err := e.conn.Write(body); err != nil {
		return err
	}
	e.last = body
	return nil
}
