/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stats

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSetAndGet(t *testing.T) {
	tr := New(prometheus.NewRegistry())
	tr.Set(GlobalScope, "clients", 5)

	v, ok := tr.Get(GlobalScope, "clients")
	if !ok || v != 5 {
		t.Fatalf("Get() = (%v, %v), want (5, true)", v, ok)
	}
}

func TestIncAndDec(t *testing.T) {
	tr := New(prometheus.NewRegistry())
	if v := tr.Inc("/live", "listeners", 3); v != 3 {
		t.Fatalf("Inc() = %v, want 3", v)
	}
	if v := tr.Inc("/live", "listeners", 2); v != 5 {
		t.Fatalf("Inc() = %v, want 5", v)
	}
	if v := tr.Dec("/live", "listeners", 4); v != 1 {
		t.Fatalf("Dec() = %v, want 1", v)
	}
}

func TestUnsetRemovesEntry(t *testing.T) {
	tr := New(prometheus.NewRegistry())
	tr.Set("/live", "bitrate", 128)
	tr.Unset("/live", "bitrate")

	if _, ok := tr.Get("/live", "bitrate"); ok {
		t.Fatalf("expected entry to be gone after Unset")
	}
}

func TestUnsetDropsEmptyScope(t *testing.T) {
	tr := New(prometheus.NewRegistry())
	tr.Set("/live", "bitrate", 128)
	tr.Unset("/live", "bitrate")

	snap := tr.Snapshot()
	if _, ok := snap["/live"]; ok {
		t.Fatalf("expected the scope itself to be dropped once its last stat is unset")
	}
}

func TestOnChangeFiresForSetIncDecUnset(t *testing.T) {
	tr := New(prometheus.NewRegistry())

	var calls []string
	tr.OnChange(func(scope, name string, value float64, removed bool) {
		calls = append(calls, scope+"/"+name)
	})

	tr.Set("/live", "bitrate", 128)
	tr.Inc("/live", "listeners", 1)
	tr.Dec("/live", "listeners", 1)
	tr.Unset("/live", "bitrate")

	if len(calls) != 4 {
		t.Fatalf("len(calls) = %d, want 4, got %v", len(calls), calls)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	tr := New(prometheus.NewRegistry())
	tr.Set(GlobalScope, "sources", 2)

	snap := tr.Snapshot()
	snap[GlobalScope]["sources"] = 999

	v, _ := tr.Get(GlobalScope, "sources")
	if v != 2 {
		t.Fatalf("mutating a snapshot affected the tree: Get() = %v, want 2", v)
	}
}

func TestToXMLIsSortedAndWellFormed(t *testing.T) {
	tr := New(prometheus.NewRegistry())
	tr.Set(GlobalScope, "sources", 2)
	tr.Set("/live", "listeners", 9)
	tr.Set("/live", "bitrate", 128)

	out, err := tr.ToXML()
	if err != nil {
		t.Fatalf("ToXML: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "<icestats>") {
		t.Fatalf("missing root element: %s", s)
	}
	biIdx := strings.Index(s, `name="bitrate"`)
	liIdx := strings.Index(s, `name="listeners"`)
	if biIdx == -1 || liIdx == -1 || biIdx > liIdx {
		t.Fatalf("expected stats sorted alphabetically within a scope: %s", s)
	}
}
