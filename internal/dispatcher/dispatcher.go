/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dispatcher implements the connection-handle dispatcher: the
// seam between a freshly parsed request (internal/httpproto, normalized
// by internal/connpool) and every other subsystem. It runs the resource
// rewrite table, the Shoutcast admin.cgi promotion, the auth pipeline,
// and method-based routing to source ingest, listener attach, file
// serving, stats, SSE, and admin commands (spec.md §4.J).
package dispatcher

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/acl"
	"github.com/friendsincode/icecastgo/internal/authstack"
	"github.com/friendsincode/icecastgo/internal/eventbus"
	"github.com/friendsincode/icecastgo/internal/fserve"
	"github.com/friendsincode/icecastgo/internal/httpproto"
	"github.com/friendsincode/icecastgo/internal/listener"
	"github.com/friendsincode/icecastgo/internal/listenset"
	"github.com/friendsincode/icecastgo/internal/moduletbl"
	"github.com/friendsincode/icecastgo/internal/navhistory"
	"github.com/friendsincode/icecastgo/internal/report"
	"github.com/friendsincode/icecastgo/internal/source"
	"github.com/friendsincode/icecastgo/internal/sse"
	"github.com/friendsincode/icecastgo/internal/stats"
	"github.com/friendsincode/icecastgo/internal/yp"
)

// Resource is one entry of the configured resource-rewrite table.
// Matching follows spec.md §4.J step 4: first match wins, on match the
// URI may be rewritten (prefix-preserving when PrefixPreserve is set) and
// a module/handler pair bound for later dispatch.
type Resource struct {
	URIExact       string
	URIPrefix      string
	Port           int
	BindAddress    string
	ListenSocketID string
	Vhost          string

	RewriteTo      string
	PrefixPreserve bool
	OMode          string
	Module         string
	Handler        string
}

func (r Resource) matches(req *httpproto.Request, conn *listenset.Conn) bool {
	if r.URIExact != "" && req.URI != r.URIExact {
		return false
	}
	if r.URIPrefix != "" && !strings.HasPrefix(req.URI, r.URIPrefix) {
		return false
	}
	if r.Port != 0 && conn.EffectiveConfig.Port != r.Port {
		return false
	}
	if r.BindAddress != "" && conn.EffectiveConfig.BindAddress != r.BindAddress {
		return false
	}
	if r.ListenSocketID != "" && conn.EffectiveConfig.ID != r.ListenSocketID {
		return false
	}
	if r.Vhost != "" {
		host, _ := req.Header("host")
		if !strings.EqualFold(host, r.Vhost) {
			return false
		}
	}
	return true
}

func (r Resource) rewrite(uri string) string {
	if r.RewriteTo == "" {
		return uri
	}
	if r.PrefixPreserve && r.URIPrefix != "" && strings.HasPrefix(uri, r.URIPrefix) {
		return r.RewriteTo + strings.TrimPrefix(uri, r.URIPrefix)
	}
	return r.RewriteTo
}

// MountPolicy is everything the dispatcher needs to process a request
// against one mount: its auth scopes and its ACL.
type MountPolicy struct {
	NormalAuth  *authstack.Stack
	DefaultAuth *authstack.Stack
	ACL         *acl.ACL
}

// MountPolicyResolver resolves a mount's policy, if configured.
type MountPolicyResolver func(mount string) (MountPolicy, bool)

// MountConfigResolver resolves a mount's persisted source.Config (limits,
// fallback, burst size, …), if configured. A source connecting to a mount
// with no resolved config still gets one seeded from the request alone
// (spec.md's "undeclared mounts are accepted with process defaults").
type MountConfigResolver func(mount string) (source.Config, bool)

// Dispatcher wires every other subsystem together behind one
// connpool.Handler.
type Dispatcher struct {
	Resources   []Resource
	Modules     *moduletbl.Container
	GlobalACL   *acl.ACL
	GlobalAuth  *authstack.Stack
	MountPolicy MountPolicyResolver
	MountConfig MountConfigResolver

	Registry *source.Registry
	Resolver source.FallbackResolver
	Bus      *eventbus.Bus
	YP       yp.Agent

	// FormatFor selects a FormatHandler by the source's declared
	// Content-Type. A nil value falls back to a raw byte-stream handler.
	FormatFor func(contentType string) source.FormatHandler

	FilePool   *fserve.Pool
	StaticRoot string
	SSEPath    string
	EventRing  *sse.Ring
	Stats      *stats.Tree

	TLSConfig      *tls.Config
	TLSRequired    func(listenset.Config) bool
	MaxHeaderBytes int

	Logger zerolog.Logger

	nextListenerID atomic.Uint64
}

// Handle implements connpool.Handler. It owns conn from this point on.
func (d *Dispatcher) Handle(ctx context.Context, conn *listenset.Conn, req *httpproto.Request) {
	if req.Method == "OPTIONS" && req.URI == "*" {
		writeStatusLine(conn, 204, nil)
		conn.Close()
		return
	}

	if v, ok := req.Header("upgrade"); ok && strings.EqualFold(v, "TLS/1.0") {
		d.handleTLSUpgrade(ctx, conn, req)
		return
	}
	if d.TLSRequired != nil && d.TLSRequired(conn.EffectiveConfig) {
		if _, isTLS := conn.Conn.(*tls.Conn); !isTLS {
			d.sendError(conn, report.ErrBadUpgrade, req)
			conn.Close()
			return
		}
	}

	path, query := splitURI(req.URI)
	uri := path
	omode := ""
	var module, handlerName string
	for _, r := range d.Resources {
		if r.matches(req, conn) {
			uri = r.rewrite(path)
			omode = r.OMode
			module, handlerName = r.Module, r.Handler
			break
		}
	}

	if uri == "/admin.cgi" {
		if pass := query.Get("pass"); pass != "" {
			query.Set("__promoted_pass", pass)
		}
	}
	isAdmin := strings.HasPrefix(uri, "/admin/") || uri == "/admin.cgi"

	mount := uri
	if isAdmin {
		if m := query.Get("mount"); m != "" {
			mount = m
		}
	}

	adminCommand := ""
	if isAdmin {
		if uri == "/admin.cgi" {
			adminCommand = query.Get("command")
		} else {
			adminCommand = strings.TrimPrefix(uri, "/admin/")
		}
	}

	id := buildIdentity(req, adminCommand)
	if promoted := query.Get("__promoted_pass"); promoted != "" {
		id.Password = promoted
	}

	policy, havePolicy := MountPolicy{}, false
	if d.MountPolicy != nil {
		policy, havePolicy = d.MountPolicy(mount)
	}

	var normal, def *authstack.Stack
	if havePolicy {
		normal, def = policy.NormalAuth, policy.DefaultAuth
	}
	result, binding := authstack.Composed(ctx, id, normal, def, d.GlobalAuth)

	switch result {
	case authstack.ResultForbidden:
		d.sendError(conn, report.ErrForbidden, req)
		conn.Close()
		return
	case authstack.ResultFail:
		d.sendError(conn, report.ErrNeedsAuth, req)
		conn.Close()
		return
	case authstack.ResultBusy:
		d.sendError(conn, report.ErrAuthBusy, req)
		conn.Close()
		return
	}

	effectiveACL := binding.ACL
	if effectiveACL == nil && havePolicy && policy.ACL != nil {
		// No authenticator bound an ACL (the mount may require no auth at
		// all), but the mount still carries its own static ACL.
		effectiveACL = policy.ACL
	}
	if effectiveACL == nil {
		effectiveACL = d.GlobalACL
	}
	if effectiveACL == nil {
		effectiveACL = acl.New()
	}

	if effectiveACL.TestMethod(req.Method) != acl.PolicyAllow {
		d.sendError(conn, report.ErrForbidden, req)
		conn.Close()
		return
	}

	if isAdmin {
		// A mount-scoped OK never overrides a global admin-command deny:
		// the global ACL's verdict on this command always has the final
		// say, even when a mount ACL matched OK first (spec.md §4.I).
		globalVerdict := acl.PolicyAllow
		if d.GlobalACL != nil {
			globalVerdict = d.GlobalACL.TestAdmin(adminCommand)
		}
		if effectiveACL.TestAdmin(adminCommand) != acl.PolicyAllow || globalVerdict == acl.PolicyDeny {
			d.sendError(conn, report.ErrForbidden, req)
			conn.Close()
			return
		}
		d.handleAdmin(ctx, conn, req, adminCommand, mount)
		return
	}

	if module != "" && handlerName != "" {
		fn, err := d.Modules.Resolve(module, handlerName)
		if err == nil {
			hctx := moduletbl.HandlerContext{
				URI:   uri,
				Mount: mount,
				Extra: map[string]any{"conn": conn, "req": req, "omode": omode},
			}
			if err := fn(hctx); err != nil {
				d.Logger.Warn().Err(err).Str("module", module).Str("handler", handlerName).Msg("bound handler failed")
			}
			return
		}
		d.Logger.Warn().Err(err).Msg("resource bound an unresolvable module/handler")
	}

	switch req.Method {
	case "SOURCE", "PUT":
		d.handleSourceIngest(ctx, conn, req, mount)
	case "DELETE":
		d.handleDelete(conn, mount)
	case "STATS":
		d.handleStats(conn)
	case "GET", "POST", "OPTIONS":
		d.handleGet(ctx, conn, req, mount, query)
	default:
		d.sendError(conn, report.ErrUnsupportedMethod, req)
		conn.Close()
	}
}

func (d *Dispatcher) handleGet(ctx context.Context, conn *listenset.Conn, req *httpproto.Request, mount string, query url.Values) {
	if d.SSEPath != "" && mount == d.SSEPath {
		d.handleSSE(conn, req, query)
		return
	}
	if _, running := d.Registry.Lookup(mount); running {
		d.handleListenerAttach(ctx, conn, mount)
		return
	}
	d.handleFileServe(conn, req, mount)
}

func (d *Dispatcher) handleTLSUpgrade(ctx context.Context, conn *listenset.Conn, req *httpproto.Request) {
	if d.TLSConfig == nil {
		d.sendError(conn, report.ErrBadUpgrade, req)
		conn.Close()
		return
	}
	fmt.Fprintf(conn, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: TLS/1.0, HTTP/1.1\r\nConnection: Upgrade\r\n\r\n")

	tlsConn := tls.Server(conn.Conn, d.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		d.Logger.Warn().Err(err).Msg("tls upgrade handshake failed")
		conn.Close()
		return
	}
	upgraded := &listenset.Conn{Conn: tlsConn, ListenConfig: conn.ListenConfig, EffectiveConfig: conn.EffectiveConfig}

	br := bufio.NewReader(upgraded)
	newReq, err := httpproto.Parse(br, d.MaxHeaderBytes)
	if err != nil {
		upgraded.Close()
		return
	}
	if newReq.URI != "" {
		if normalized, err := httpproto.NormalizeURI(newReq.URI); err == nil {
			newReq.URI = normalized
		}
	}
	d.Handle(ctx, upgraded, newReq)
}

func (d *Dispatcher) handleSourceIngest(ctx context.Context, conn *listenset.Conn, req *httpproto.Request, mount string) {
	cfg := source.Config{MountName: mount}
	if d.MountConfig != nil {
		if persisted, ok := d.MountConfig(mount); ok {
			cfg = persisted
			cfg.MountName = mount
		}
	}
	if cfg.HTTPHeaders == nil {
		cfg.HTTPHeaders = make(map[string]string, 1)
	}
	cfg.HTTPHeaders["content-type"] = contentType(req)

	if err := d.Registry.Reserve(mount); err != nil {
		d.sendReportable(conn, err, req)
		conn.Close()
		return
	}
	src, err := d.Registry.Complete(mount, cfg)
	if err != nil {
		d.sendReportable(conn, err, req)
		conn.Close()
		return
	}

	writeStatusLine(conn, 200, nil)

	format := d.formatFor(contentType(req))
	runner := &source.Runner{
		Source:   src,
		Format:   format,
		Body:     conn,
		Bus:      d.Bus,
		Resolver: d.Resolver,
		Logger:   d.Logger,
		YP:       d.YP,
	}
	if err := runner.Run(ctx); err != nil {
		d.Logger.Info().Err(err).Str("mount", mount).Msg("source connection ended")
	}
	d.Registry.Release(mount)
	conn.Close()
}

// maxFallbackWhenFullHops bounds the full-mount redirect chain the same
// way the original's __add_listener_to_source loop guard does (a fixed
// retry count, not just loop detection), so a misconfigured cycle of
// always-full mounts can't spin forever.
const maxFallbackWhenFullHops = 10

func (d *Dispatcher) handleListenerAttach(ctx context.Context, conn *listenset.Conn, mount string) {
	src, ok := d.Registry.Lookup(mount)
	if !ok {
		writeStatusLine(conn, 404, nil)
		conn.Close()
		return
	}
	// A mount configured NoMount = true only rejects the originally
	// requested mount — a listener reaching it indirectly via a fallback
	// hop (handled below) is still served.
	if src.Config().NoMount {
		writeStatusLine(conn, 404, nil)
		conn.Close()
		return
	}

	l := source.NewListener(d.nextListenerID.Add(1), mount)
	l.History.Push(navhistory.ReplaceAll, mount)

	for hops := 0; ; hops++ {
		cfg := src.Config()
		if max := cfg.MaxListeners; max <= 0 || src.CurrentListeners() < int64(max) {
			break
		}
		if hops >= maxFallbackWhenFullHops || !cfg.FallbackWhenFull || cfg.FallbackMount == "" || l.History.Contains(cfg.FallbackMount) {
			writeStatusLine(conn, 503, nil)
			conn.Close()
			return
		}
		next, ok := d.Registry.Lookup(cfg.FallbackMount)
		if !ok {
			writeStatusLine(conn, 503, nil)
			conn.Close()
			return
		}
		l.History.Push(navhistory.Up, cfg.FallbackMount)
		src = next
	}

	src.AddPending(l)

	mountContentType := src.Config().HTTPHeaders["content-type"]
	writeStatusLine(conn, 200, map[string]string{"Content-Type": mountContentType})

	eng := &listener.Engine{
		Listener: l,
		Source:   src,
		Format:   d.formatFor(mountContentType),
		Writer:   conn,
		Logger:   d.Logger,
	}
	if err := eng.Run(ctx); err != nil {
		d.Logger.Debug().Err(err).Str("mount", mount).Msg("listener disconnected")
	}
	conn.Close()
}

func (d *Dispatcher) handleFileServe(conn *listenset.Conn, req *httpproto.Request, mount string) {
	if d.StaticRoot == "" {
		d.sendError(conn, report.ErrFileNotFound, req)
		conn.Close()
		return
	}
	path := d.StaticRoot + mount
	f, err := os.Open(path)
	if err != nil {
		d.sendError(conn, report.ErrFileNotFound, req)
		conn.Close()
		return
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		d.sendError(conn, report.ErrFileNotFound, req)
		conn.Close()
		return
	}

	writeStatusLine(conn, 200, map[string]string{
		"Content-Length": strconv.FormatInt(info.Size(), 10),
	})

	entry := &fileEntry{file: f, remaining: info.Size(), conn: conn}
	d.FilePool.Register(entry)
}

func (d *Dispatcher) handleStats(conn *listenset.Conn) {
	writeStatusLine(conn, 200, map[string]string{"Content-Type": "application/xml"})
	if d.Stats != nil {
		if body, err := d.Stats.ToXML(); err == nil {
			conn.Write(body)
		}
	}
	entry := newStatsEntry(d.Stats, conn)
	d.FilePool.Register(entry)
}

func (d *Dispatcher) handleSSE(conn *listenset.Conn, req *httpproto.Request, query url.Values) {
	lastEventID, _ := req.Header("last-event-id")
	filter := sse.Filter{
		Mount:  query.Get("mount"),
		Global: parseBool(query.Get("request-global")),
	}
	writeStatusLine(conn, 200, map[string]string{"Content-Type": "text/event-stream"})
	stream := sse.NewStream(d.EventRing, filter, lastEventID, conn, nil)
	d.FilePool.Register(stream)
}

func (d *Dispatcher) handleDelete(conn *listenset.Conn, mount string) {
	src, ok := d.Registry.Lookup(mount)
	if !ok {
		writeStatusLine(conn, 404, nil)
		conn.Close()
		return
	}
	src.SetRunning(false)
	writeStatusLine(conn, 204, nil)
	conn.Close()
}

func (d *Dispatcher) handleAdmin(ctx context.Context, conn *listenset.Conn, req *httpproto.Request, command, mount string) {
	fn, err := d.Modules.Resolve("admin", command)
	if err != nil {
		d.sendError(conn, report.ErrFileNotFound, req)
		conn.Close()
		return
	}
	hctx := moduletbl.HandlerContext{
		URI:   req.URI,
		Mount: mount,
		Extra: map[string]any{"conn": conn, "req": req, "ctx": ctx, "command": command},
	}
	if err := fn(hctx); err != nil {
		d.Logger.Warn().Err(err).Str("command", command).Msg("admin command failed")
	}
}

func (d *Dispatcher) formatFor(contentType string) source.FormatHandler {
	if d.FormatFor != nil {
		return d.FormatFor(contentType)
	}
	return source.NewRawFormat(4096)
}

// reportIDer is satisfied by source's unexported reportableError,
// letting the dispatcher render the correct stable error id without
// internal/source importing net/http.
type reportIDer interface {
	ReportID() report.ID
}

func (d *Dispatcher) sendReportable(conn *listenset.Conn, err error, req *httpproto.Request) {
	if rid, ok := err.(reportIDer); ok {
		d.sendError(conn, rid.ReportID(), req)
		return
	}
	d.sendError(conn, report.ErrStreamPrepFailed, req)
}

// sendError renders the stable error table entry directly onto the raw
// connection. This mirrors internal/report's render.go three-format
// switch, re-expressed over a net.Conn instead of an http.ResponseWriter
// since the dispatcher never runs through net/http's own server (see
// internal/httpproto's doc comment for why).
func (d *Dispatcher) sendError(conn *listenset.Conn, id report.ID, req *httpproto.Request) {
	entry, ok := report.ByID(id)
	if !ok {
		entry, _ = report.ByID(report.ErrRecursiveFailure)
	}
	accept, _ := req.Header("accept")
	format := report.NegotiateFormat(accept)

	var body, contentType string
	switch format {
	case report.FormatRawXML:
		contentType = "application/xml"
		body = fmt.Sprintf("<error><uuid>%s</uuid><message>%s</message></error>", entry.UUID, entry.Message)
	case report.FormatXSLT:
		contentType = "text/html"
		body = fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", entry.Message, entry.UUID)
	default:
		contentType = "text/plain"
		body = fmt.Sprintf("%s (%s)\n", entry.Message, entry.UUID)
	}

	fmt.Fprintf(conn, "HTTP/1.0 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nX-Error-UUID: %s\r\nConnection: close\r\n\r\n%s",
		entry.HTTPStatus, http.StatusText(entry.HTTPStatus), contentType, len(body), entry.UUID, body)
}

func writeStatusLine(conn *listenset.Conn, status int, headers map[string]string) {
	fmt.Fprintf(conn, "HTTP/1.0 %d %s\r\n", status, http.StatusText(status))
	for k, v := range headers {
		fmt.Fprintf(conn, "%s: %s\r\n", k, v)
	}
	fmt.Fprint(conn, "\r\n")
}

func buildIdentity(req *httpproto.Request, adminCommand string) authstack.Identity {
	id := authstack.Identity{AdminCommand: adminCommand}
	if v, ok := req.Header("authorization"); ok {
		switch {
		case strings.HasPrefix(v, "Basic "):
			if raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, "Basic ")); err == nil {
				parts := strings.SplitN(string(raw), ":", 2)
				id.Username = parts[0]
				if len(parts) > 1 {
					id.Password = parts[1]
				}
			}
		case strings.HasPrefix(v, "Bearer "):
			id.BearerToken = strings.TrimPrefix(v, "Bearer ")
		}
	}
	if req.BarePassword != "" {
		id.Password = req.BarePassword
	}
	return id
}

func contentType(req *httpproto.Request) string {
	v, _ := req.Header("content-type")
	return v
}

func splitURI(uri string) (string, url.Values) {
	path, rawQuery, found := strings.Cut(uri, "?")
	if !found {
		return path, url.Values{}
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path, url.Values{}
	}
	return path, q
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
