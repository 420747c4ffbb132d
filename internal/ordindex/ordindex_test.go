/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ordindex

import "testing"

func stringCmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func TestInsertGet(t *testing.T) {
	idx := New[string, int](stringCmp)
	idx.Insert("/b", 2)
	idx.Insert("/a", 1)
	idx.Insert("/c", 3)

	v, ok := idx.Get("/a")
	if !ok || v != 1 {
		t.Fatalf("Get(/a) = %d, %v", v, ok)
	}
	if _, ok := idx.Get("/missing"); ok {
		t.Fatalf("Get(/missing) should miss")
	}
	if idx.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", idx.Len())
	}
}

func TestInOrderIsSorted(t *testing.T) {
	idx := New[string, int](stringCmp)
	for _, k := range []string{"/d", "/b", "/a", "/c"} {
		idx.Insert(k, 0)
	}
	var seen []string
	idx.InOrder(func(k string, _ int) bool {
		seen = append(seen, k)
		return true
	})
	want := []string{"/a", "/b", "/c", "/d"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestDeleteRunsFreeCallback(t *testing.T) {
	idx := New[string, int](stringCmp)
	idx.Insert("/a", 1)
	var freed int
	if !idx.Delete("/a", func(v int) { freed = v }) {
		t.Fatalf("Delete reported not-found")
	}
	if freed != 1 {
		t.Fatalf("free callback got %d, want 1", freed)
	}
	if idx.Delete("/a", nil) {
		t.Fatalf("second delete should report not-found")
	}
}

func TestFirstNextPrevious(t *testing.T) {
	idx := New[string, int](stringCmp)
	for i, k := range []string{"/a", "/b", "/c"} {
		idx.Insert(k, i)
	}
	k, _, ok := idx.First()
	if !ok || k != "/a" {
		t.Fatalf("First() = %q, %v", k, ok)
	}
	k, _, ok = idx.Next("/a")
	if !ok || k != "/b" {
		t.Fatalf("Next(/a) = %q, %v", k, ok)
	}
	k, _, ok = idx.Previous("/c")
	if !ok || k != "/b" {
		t.Fatalf("Previous(/c) = %q, %v", k, ok)
	}
	if _, _, ok := idx.Next("/c"); ok {
		t.Fatalf("Next(/c) should have no successor")
	}
}

func TestRangeIsBounded(t *testing.T) {
	idx := New[string, int](stringCmp)
	for _, k := range []string{"/a", "/b", "/c", "/d", "/e"} {
		idx.Insert(k, 0)
	}
	var got []string
	idx.Range("/b", "/d", func(k string, _ int) bool {
		got = append(got, k)
		return true
	})
	if len(got) != 3 || got[0] != "/b" || got[2] != "/d" {
		t.Fatalf("Range(/b,/d) = %v", got)
	}
}

func TestLargeSequenceStaysBalanced(t *testing.T) {
	idx := New[int, int](func(a, b int) int { return a - b })
	const n = 1000
	for i := 0; i < n; i++ {
		idx.Insert(i, i*i)
	}
	if idx.Len() != n {
		t.Fatalf("Len() = %d, want %d", idx.Len(), n)
	}
	for i := 0; i < n; i += 97 {
		v, ok := idx.Get(i)
		if !ok || v != i*i {
			t.Fatalf("Get(%d) = %d, %v", i, v, ok)
		}
	}
}
