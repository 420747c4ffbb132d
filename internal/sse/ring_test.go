/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sse

import (
	"testing"

	"github.com/friendsincode/icecastgo/internal/eventbus"
)

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	r := NewRing(3)
	var ids []string
	for i := 0; i < 5; i++ {
		ev, err := r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd, Mount: "/live"}, true)
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		ids = append(ids, ev.ID)
	}

	if _, ok := r.FindByID(ids[0]); ok {
		t.Fatalf("oldest event should have been evicted")
	}
	if _, ok := r.FindByID(ids[4]); !ok {
		t.Fatalf("most recent event should still be retained")
	}
}

func TestRingSinceZeroReturnsEverythingRetained(t *testing.T) {
	r := NewRing(32)
	for i := 0; i < 3; i++ {
		if _, err := r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	events, gap := r.Since(0)
	if gap {
		t.Fatalf("gap = true on a fresh ring, want false")
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
}

func TestRingSinceDetectsGapOnceLaggedBehindEviction(t *testing.T) {
	r := NewRing(2)
	first, _ := r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true)
	r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true)
	r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true)
	r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true)

	_, gap := r.Since(first.Seq)
	if !gap {
		t.Fatalf("gap = false, want true once the client's last-seen event has aged out")
	}
}

func TestRingSinceNoGapWhenCaughtUpToRetentionEdge(t *testing.T) {
	r := NewRing(2)
	r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true)
	second, _ := r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true)
	third, _ := r.Publish(eventbus.Event{Trigger: eventbus.TriggerListenerAdd}, true)

	events, gap := r.Since(second.Seq)
	if gap {
		t.Fatalf("gap = true, want false: cursor sits exactly at the retained boundary")
	}
	if len(events) != 1 || events[0].Seq != third.Seq {
		t.Fatalf("events = %+v, want only the third event", events)
	}
}

func TestRingFindByIDUnknown(t *testing.T) {
	r := NewRing(4)
	if _, ok := r.FindByID("does-not-exist"); ok {
		t.Fatalf("FindByID should report false for an unknown id")
	}
}
