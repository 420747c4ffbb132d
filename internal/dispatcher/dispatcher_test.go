/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatcher

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/acl"
	"github.com/friendsincode/icecastgo/internal/httpproto"
	"github.com/friendsincode/icecastgo/internal/listenset"
	"github.com/friendsincode/icecastgo/internal/moduletbl"
	"github.com/friendsincode/icecastgo/internal/source"
)

func allowAllACL() *acl.ACL {
	a := acl.New()
	a.SetMethodPolicy("*", acl.PolicyAllow)
	a.AddAdminPolicy("*", acl.PolicyAllow)
	return a
}

func newTestConn() (server *listenset.Conn, client net.Conn) {
	s, c := net.Pipe()
	return &listenset.Conn{Conn: s}, c
}

func runHandle(t *testing.T, d *Dispatcher, req *httpproto.Request) string {
	t.Helper()
	conn, client := newTestConn()
	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), conn, req)
		close(done)
	}()
	out, _ := io.ReadAll(client)
	<-done
	return string(out)
}

func newReq(method, uri string) *httpproto.Request {
	return &httpproto.Request{
		Method:  method,
		URI:     uri,
		Headers: map[string]string{},
		Vars:    map[string]string{},
	}
}

func TestHandleOptionsStarShortcut(t *testing.T) {
	d := &Dispatcher{Logger: zerolog.Nop(), GlobalACL: allowAllACL()}
	resp := runHandle(t, d, newReq("OPTIONS", "*"))
	if !strings.Contains(resp, "204") {
		t.Fatalf("response = %q, want a 204 status line", resp)
	}
}

func TestHandleDeniesMethodNotInACL(t *testing.T) {
	deny := acl.New() // default-deny, nothing whitelisted
	d := &Dispatcher{Logger: zerolog.Nop(), GlobalACL: deny, Registry: source.NewRegistry(0)}
	resp := runHandle(t, d, newReq("GET", "/live.mp3"))
	if !strings.Contains(resp, "403") {
		t.Fatalf("response = %q, want a 403 status line", resp)
	}
}

func TestHandleFileServeMissingFileSends404(t *testing.T) {
	d := &Dispatcher{
		Logger:     zerolog.Nop(),
		GlobalACL:  allowAllACL(),
		Registry:   source.NewRegistry(0),
		StaticRoot: t.TempDir(),
	}
	resp := runHandle(t, d, newReq("GET", "/nope.html"))
	if !strings.Contains(resp, "404") {
		t.Fatalf("response = %q, want a 404 status line", resp)
	}
}

func TestHandleSourceIngestMountInUseSendsReportableError(t *testing.T) {
	reg := source.NewRegistry(0)
	if err := reg.Reserve("/live"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	d := &Dispatcher{
		Logger:    zerolog.Nop(),
		GlobalACL: allowAllACL(),
		Registry:  reg,
	}
	resp := runHandle(t, d, newReq("SOURCE", "/live"))
	if !strings.Contains(resp, "409") {
		t.Fatalf("response = %q, want a 409 mount-in-use status line", resp)
	}
}

func TestHandleResourceRewriteBindsModule(t *testing.T) {
	modules := moduletbl.NewContainer()
	m := moduletbl.NewModule("static", nil, nil)
	called := false
	m.AddHandler("serve", func(ctx moduletbl.HandlerContext) error {
		called = true
		conn := ctx.Extra["conn"].(*listenset.Conn)
		conn.Write([]byte("HTTP/1.0 200 OK\r\n\r\nbound"))
		return nil
	})
	modules.Register(m)

	d := &Dispatcher{
		Logger:    zerolog.Nop(),
		GlobalACL: allowAllACL(),
		Registry:  source.NewRegistry(0),
		Modules:   modules,
		Resources: []Resource{
			{URIPrefix: "/rewritten/", Module: "static", Handler: "serve"},
		},
	}
	resp := runHandle(t, d, newReq("GET", "/rewritten/anything"))
	if !called {
		t.Fatalf("expected the bound module handler to run")
	}
	if !strings.Contains(resp, "bound") {
		t.Fatalf("response = %q, want it to come from the bound handler", resp)
	}
}

func TestHandleAdminCommandDeniedByGlobalOverride(t *testing.T) {
	mountACL := acl.New()
	mountACL.SetMethodPolicy("*", acl.PolicyAllow)
	mountACL.AddAdminPolicy("killsource", acl.PolicyAllow)

	globalACL := acl.New()
	globalACL.SetMethodPolicy("*", acl.PolicyAllow)
	globalACL.AddAdminPolicy("killsource", acl.PolicyDeny)

	d := &Dispatcher{
		Logger:    zerolog.Nop(),
		GlobalACL: globalACL,
		Registry:  source.NewRegistry(0),
		MountPolicy: func(mount string) (MountPolicy, bool) {
			return MountPolicy{ACL: mountACL}, true
		},
	}
	resp := runHandle(t, d, newReq("GET", "/admin/killsource"))
	if !strings.Contains(resp, "403") {
		t.Fatalf("response = %q, want 403: a global admin deny must win over a mount-scoped allow", resp)
	}
}

func TestHandleDeleteStopsRunningSource(t *testing.T) {
	reg := source.NewRegistry(0)
	if err := reg.Reserve("/live"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	src, err := reg.Complete("/live", source.Config{MountName: "/live"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	d := &Dispatcher{Logger: zerolog.Nop(), GlobalACL: allowAllACL(), Registry: reg}
	resp := runHandle(t, d, newReq("DELETE", "/live"))
	if !strings.Contains(resp, "204") {
		t.Fatalf("response = %q, want a 204 status line", resp)
	}
	if src.Running() {
		t.Fatalf("expected SetRunning(false) to have been called on the source")
	}
}

func TestHandleDeleteUnknownMountSends404(t *testing.T) {
	d := &Dispatcher{Logger: zerolog.Nop(), GlobalACL: allowAllACL(), Registry: source.NewRegistry(0)}
	resp := runHandle(t, d, newReq("DELETE", "/nope"))
	if !strings.Contains(resp, "404") {
		t.Fatalf("response = %q, want a 404 status line", resp)
	}
}

func TestHandleListenerAttachRejectsNoMountOnDirectRequest(t *testing.T) {
	reg := source.NewRegistry(0)
	if err := reg.Reserve("/live"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := reg.Complete("/live", source.Config{MountName: "/live", NoMount: true}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	d := &Dispatcher{Logger: zerolog.Nop(), GlobalACL: allowAllACL(), Registry: reg}
	resp := runHandle(t, d, newReq("GET", "/live"))
	if !strings.Contains(resp, "404") {
		t.Fatalf("response = %q, want a 404 status line for a direct request to a NoMount mount", resp)
	}
}

func TestHandleListenerAttachSendsServiceUnavailableWhenFullWithNoFallback(t *testing.T) {
	reg := source.NewRegistry(0)
	if err := reg.Reserve("/live"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	src, err := reg.Complete("/live", source.Config{MountName: "/live", MaxListeners: 1})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	src.AddPending(source.NewListener(1, "/live"))
	src.MergePending()

	d := &Dispatcher{Logger: zerolog.Nop(), GlobalACL: allowAllACL(), Registry: reg}
	resp := runHandle(t, d, newReq("GET", "/live"))
	if !strings.Contains(resp, "503") {
		t.Fatalf("response = %q, want a 503 status line for a full mount with no fallback configured", resp)
	}
}

func TestHandleListenerAttachRedirectsToFallbackWhenFull(t *testing.T) {
	reg := source.NewRegistry(0)

	if err := reg.Reserve("/overflow"); err != nil {
		t.Fatalf("Reserve overflow: %v", err)
	}
	if _, err := reg.Complete("/overflow", source.Config{MountName: "/overflow"}); err != nil {
		t.Fatalf("Complete overflow: %v", err)
	}

	if err := reg.Reserve("/live"); err != nil {
		t.Fatalf("Reserve live: %v", err)
	}
	src, err := reg.Complete("/live", source.Config{
		MountName:        "/live",
		MaxListeners:     1,
		FallbackWhenFull: true,
		FallbackMount:    "/overflow",
	})
	if err != nil {
		t.Fatalf("Complete live: %v", err)
	}
	src.AddPending(source.NewListener(1, "/live"))
	src.MergePending()

	d := &Dispatcher{Logger: zerolog.Nop(), GlobalACL: allowAllACL(), Registry: reg}

	conn, client := newTestConn()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Handle(ctx, conn, newReq("GET", "/live"))
		close(done)
	}()

	buf := make([]byte, 512)
	n, _ := client.Read(buf)
	resp := string(buf[:n])
	if !strings.Contains(resp, "200") {
		t.Fatalf("response = %q, want a 200 status line from the fallback mount", resp)
	}
	cancel()
	client.Close()
	<-done
}
