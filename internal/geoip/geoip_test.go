/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package geoip

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestNoopLookupSatisfiesLookup(t *testing.T) {
	var _ Lookup = NoopLookup{}
}

func TestNoopLookupNeverMatches(t *testing.T) {
	n := NoopLookup{Logger: zerolog.Nop()}

	ann, ok := n.Lookup(context.Background(), "203.0.113.7")
	if ok {
		t.Fatalf("Lookup: got ok=true, want false")
	}
	if ann != (Annotation{}) {
		t.Fatalf("Lookup: got %+v, want zero value", ann)
	}
}
