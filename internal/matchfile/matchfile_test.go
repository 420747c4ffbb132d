/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package matchfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoadParsesTokensSkippingCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "allow.txt", "10.0.0.1\n# a comment\n\n10.0.0.2\n")

	f, err := Load(p, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !f.Match("10.0.0.1") || !f.Match("10.0.0.2") {
		t.Fatalf("expected both tokens to match")
	}
	if f.Match("# a comment") {
		t.Fatalf("comment line should not be loaded as a token")
	}
}

func TestEmptyPathAlwaysMisses(t *testing.T) {
	f, err := Load("", zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Match("anything") {
		t.Fatalf("an unconfigured matchfile should never match")
	}
}

func TestMatchAllowDenyCombinationRule(t *testing.T) {
	dir := t.TempDir()
	allow, _ := Load(writeFile(t, dir, "allow.txt", "1.1.1.1\n"), zerolog.Nop())
	deny, _ := Load(writeFile(t, dir, "deny.txt", "2.2.2.2\n"), zerolog.Nop())

	tests := []struct {
		name string
		key  string
		want Decision
	}{
		{"deny hit always rejects", "2.2.2.2", Reject},
		{"allow present, miss rejects", "3.3.3.3", Reject},
		{"allow present, hit accepts", "1.1.1.1", Accept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchAllowDeny(allow, deny, tt.key); got != tt.want {
				t.Fatalf("MatchAllowDeny(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestMatchAllowDenyNoAllowFileAcceptsByDefault(t *testing.T) {
	dir := t.TempDir()
	deny, _ := Load(writeFile(t, dir, "deny.txt", "2.2.2.2\n"), zerolog.Nop())

	if got := MatchAllowDeny(nil, deny, "3.3.3.3"); got != Accept {
		t.Fatalf("MatchAllowDeny with no allow file = %v, want Accept", got)
	}
}

func TestMatchAllowDenyIdempotentBetweenReloads(t *testing.T) {
	dir := t.TempDir()
	allow, _ := Load(writeFile(t, dir, "allow.txt", "1.1.1.1\n"), zerolog.Nop())

	first := MatchAllowDeny(allow, nil, "1.1.1.1")
	for i := 0; i < 5; i++ {
		if got := MatchAllowDeny(allow, nil, "1.1.1.1"); got != first {
			t.Fatalf("call %d: MatchAllowDeny = %v, want %v (stable between reloads)", i, got, first)
		}
	}
}

func TestReloadPicksUpChangedContents(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "allow.txt", "1.1.1.1\n")
	f, err := Load(p, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Match("9.9.9.9") {
		t.Fatalf("unexpected match before update")
	}

	writeFile(t, dir, "allow.txt", "9.9.9.9\n")
	f.lastLoad = time.Time{} // bypass the rate limit directly for the unit test
	if err := f.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !f.Match("9.9.9.9") {
		t.Fatalf("expected reload to pick up the new token")
	}
	if f.Match("1.1.1.1") {
		t.Fatalf("expected the old token to be gone after reload")
	}
}
