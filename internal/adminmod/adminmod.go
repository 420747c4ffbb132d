/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package adminmod is the "admin" moduletbl.Module internal/dispatcher
// resolves admin-prefixed requests (/admin/<command> and
// /admin.cgi?command=<command>) against. Each handler is bound the way
// any other moduletbl handler is — by name, through Container.Resolve —
// so the admin surface is wired through the same seam a relay or
// webrtc-stub module would use, not hand-coded into the dispatcher.
package adminmod

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/eventbus"
	"github.com/friendsincode/icecastgo/internal/httpproto"
	"github.com/friendsincode/icecastgo/internal/listenset"
	"github.com/friendsincode/icecastgo/internal/moduletbl"
	"github.com/friendsincode/icecastgo/internal/source"
	"github.com/friendsincode/icecastgo/internal/stats"
)

// New builds the "admin" module, its handler table bound to reg, tree,
// and bus. Every handler re-parses its own query string from the raw
// request URI in HandlerContext.Extra["req"] — the dispatcher only
// promises a resolved module/handler name and mount, not a pre-parsed
// query, so a handler owns its own argument parsing the same way a
// chi.Router handler owns r.URL.Query().
func New(reg *source.Registry, tree *stats.Tree, bus *eventbus.Bus, logger zerolog.Logger) *moduletbl.Module {
	m := moduletbl.NewModule("admin", nil, nil)
	log := logger.With().Str("component", "adminmod").Logger()

	m.AddHandler("killsource", func(hctx moduletbl.HandlerContext) error {
		src, ok := reg.Lookup(hctx.Mount)
		if !ok {
			return writeAdmin(hctx, 404, "no such mount")
		}
		src.SetRunning(false)
		bus.Publish(eventbus.Event{Trigger: eventbus.TriggerAdminCommand, Timestamp: stamp(), Mount: hctx.Mount, AdminCommand: "killsource"})
		log.Info().Str("mount", hctx.Mount).Msg("admin: source killed")
		return writeAdmin(hctx, 200, "killed")
	})

	m.AddHandler("killclient", func(hctx moduletbl.HandlerContext) error {
		src, ok := reg.Lookup(hctx.Mount)
		if !ok {
			return writeAdmin(hctx, 404, "no such mount")
		}
		q, err := adminQuery(hctx)
		if err != nil {
			return writeAdmin(hctx, 400, "bad query")
		}
		id, err := strconv.ParseUint(q.Get("id"), 10, 64)
		if err != nil {
			return writeAdmin(hctx, 400, "missing or invalid id")
		}
		src.RemoveListener(id)
		bus.Publish(eventbus.Event{Trigger: eventbus.TriggerAdminCommand, Timestamp: stamp(), Mount: hctx.Mount, AdminCommand: "killclient", ConnectionID: id})
		log.Info().Str("mount", hctx.Mount).Uint64("client_id", id).Msg("admin: client killed")
		return writeAdmin(hctx, 200, "killed")
	})

	m.AddHandler("metadata", func(hctx moduletbl.HandlerContext) error {
		if _, ok := reg.Lookup(hctx.Mount); !ok {
			return writeAdmin(hctx, 404, "no such mount")
		}
		q, err := adminQuery(hctx)
		if err != nil {
			return writeAdmin(hctx, 400, "bad query")
		}
		song := q.Get("song")
		tree.Inc(hctx.Mount, "metadata_updates", 1)
		bus.Publish(eventbus.Event{Trigger: eventbus.TriggerAdminCommand, Timestamp: stamp(), Mount: hctx.Mount, AdminCommand: "metadata"})
		log.Info().Str("mount", hctx.Mount).Str("song", song).Msg("admin: metadata update broadcast")
		return writeAdmin(hctx, 200, "metadata updated")
	})

	m.AddHandler("listmounts", func(hctx moduletbl.HandlerContext) error {
		xml, err := tree.ToXML()
		if err != nil {
			return writeAdmin(hctx, 500, "stats render failed")
		}
		return writeAdminBody(hctx, 200, "text/xml", xml)
	})

	return m
}

// stamp returns the current time. Handlers never call time.Now directly
// so the admin event timestamp stays in one place if this ever needs to
// become injectable for tests.
func stamp() time.Time { return time.Now() }

func adminQuery(hctx moduletbl.HandlerContext) (url.Values, error) {
	req, _ := hctx.Extra["req"].(*httpproto.Request)
	if req == nil {
		return url.Values{}, nil
	}
	u, err := url.Parse(req.URI)
	if err != nil {
		return nil, err
	}
	return u.Query(), nil
}

func writeAdmin(hctx moduletbl.HandlerContext, status int, msg string) error {
	return writeAdminBody(hctx, status, "text/plain", []byte(msg))
}

func writeAdminBody(hctx moduletbl.HandlerContext, status int, contentType string, body []byte) error {
	conn, _ := hctx.Extra["conn"].(*listenset.Conn)
	if conn == nil {
		return fmt.Errorf("adminmod: no connection in handler context")
	}
	fmt.Fprintf(conn, "HTTP/1.0 %d %s\r\n", status, http.StatusText(status))
	fmt.Fprintf(conn, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(conn, "Content-Length: %d\r\n\r\n", len(body))
	conn.Write(body)
	return conn.Close()
}
