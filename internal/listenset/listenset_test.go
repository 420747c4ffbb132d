/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package listenset

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReconfigureBindsAndAccepts(t *testing.T) {
	s := New(zerolog.Nop())
	cfg := Config{ID: "main", BindAddress: "127.0.0.1", Port: 0}
	if err := s.Reconfigure([]Config{cfg}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	defer s.Close()

	// Port 0 means the OS picked one; find it so we can dial it.
	s.mu.RLock()
	var addr string
	for _, sock := range s.sockets {
		addr = sock.ln.Addr().String()
	}
	s.mu.RUnlock()
	if addr == "" {
		t.Fatalf("no socket bound")
	}

	go func() {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			c.Close()
		}
	}()

	conn, err := s.Accept(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	conn.Close()
	if conn.ListenConfig.ID != "main" {
		t.Fatalf("ListenConfig.ID = %q, want main", conn.ListenConfig.ID)
	}
}

func TestAcceptTimesOutWithNoConnections(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.Reconfigure([]Config{{ID: "main", BindAddress: "127.0.0.1", Port: 0}}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	defer s.Close()

	_, err := s.Accept(context.Background(), 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestReconfigureAdoptsMatchingSocketByIdentity(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.Reconfigure([]Config{{ID: "main", BindAddress: "127.0.0.1", Port: 0}}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	defer s.Close()

	s.mu.RLock()
	var before *socket
	for _, sock := range s.sockets {
		before = sock
	}
	addr := before.ln.Addr().(*net.TCPAddr)
	s.mu.RUnlock()

	// Re-apply with the same bind+port (now concrete, not 0) plus a
	// renamed ID: the OS socket must be adopted, not recreated.
	if err := s.Reconfigure([]Config{{ID: "main-renamed", BindAddress: addr.IP.String(), Port: addr.Port}}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sockets) != 1 {
		t.Fatalf("expected 1 socket, got %d", len(s.sockets))
	}
	for _, sock := range s.sockets {
		if sock.ln != before.ln {
			t.Fatalf("socket was recreated instead of adopted")
		}
	}
}
