/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mountstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/icecastgo/internal/acl"
	"github.com/friendsincode/icecastgo/internal/source"
)

// ToSourceConfig converts a persisted mount row into the in-memory
// source.Config internal/source and internal/dispatcher operate on.
func ToSourceConfig(row MountRow) source.Config {
	return source.Config{
		MountName:          row.Name,
		Type:               row.Type,
		FallbackMount:      row.FallbackMount,
		FallbackWhenFull:   row.FallbackWhenFull,
		FallbackOverride:   source.FallbackOverride(row.FallbackOverride),
		MaxListeners:       row.MaxListeners,
		BurstSize:          row.BurstSize,
		QueueSizeLimit:     row.QueueSizeLimit,
		SourceTimeout:      time.Duration(row.SourceTimeoutSec) * time.Second,
		Hidden:             row.Hidden,
		MaxListenerDuration: time.Duration(row.MaxListenerDurSec) * time.Second,
		OnDemand:           row.OnDemand,
		ShoutcastCompat:    row.ShoutcastCompat,
		NoMount:            row.NoMount,
		YPPublic:           row.YPPublic,
	}
}

// ToACL builds an ACL from a mount's (or the global scope's) persisted
// policy rows.
func ToACL(entries []ACLEntryRow) *acl.ACL {
	a := acl.New()
	for _, e := range entries {
		policy := acl.PolicyDeny
		if e.Allow {
			policy = acl.PolicyAllow
		}
		switch e.Kind {
		case "method":
			a.SetMethodPolicy(e.Key, policy)
		case "admin":
			a.AddAdminPolicy(e.Key, policy)
		}
	}
	return a
}

// LoadSnapshot reads every persisted mount plus its ACL into the
// in-memory maps internal/dispatcher's MountPolicyResolver and
// internal/source's registry-facing config lookup are built from.
func (s *Store) LoadSnapshot(ctx context.Context) (map[string]source.Config, map[string]*acl.ACL, error) {
	rows, err := s.AllMounts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("mountstore: load mounts: %w", err)
	}

	configs := make(map[string]source.Config, len(rows))
	acls := make(map[string]*acl.ACL, len(rows))
	for _, row := range rows {
		configs[row.Name] = ToSourceConfig(row)
		entries, err := s.ACLEntries(ctx, row.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("mountstore: load acl for %q: %w", row.Name, err)
		}
		acls[row.Name] = ToACL(entries)
	}
	return configs, acls, nil
}

// SeedFile is the optional static YAML seed format loaded once at
// startup to pre-populate mounts that have no durable row yet — XML
// config parsing is out of scope, but YAML is the teacher's own
// config-adjacent serialization format, so seeding uses it instead of a
// hand-rolled format.
type SeedFile struct {
	Mounts []SeedMount `yaml:"mounts"`
}

// SeedMount is one entry of a SeedFile.
type SeedMount struct {
	Name             string `yaml:"name"`
	Type             string `yaml:"type"`
	FallbackMount    string `yaml:"fallback_mount"`
	FallbackWhenFull bool   `yaml:"fallback_when_full"`
	MaxListeners     int    `yaml:"max_listeners"`
	BurstSize        int    `yaml:"burst_size"`
	QueueSizeLimit   int    `yaml:"queue_size_limit"`
	Hidden           bool   `yaml:"hidden"`
	OnDemand         bool   `yaml:"on_demand"`
	ShoutcastCompat  bool   `yaml:"shoutcast_compat"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
}

// LoadSeedFile parses a YAML seed file and applies every mount it
// describes that has no existing durable row (existing rows are never
// overwritten by a seed file — this is a bootstrap mechanism, not a
// reconciliation loop).
func (s *Store) LoadSeedFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("mountstore: read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("mountstore: parse seed file: %w", err)
	}

	for _, m := range seed.Mounts {
		if _, err := s.Mount(ctx, m.Name); err == nil {
			continue // already persisted, seed file never overwrites
		}
		row := MountRow{
			Name:             m.Name,
			Type:             m.Type,
			FallbackMount:    m.FallbackMount,
			FallbackWhenFull: m.FallbackWhenFull,
			MaxListeners:     m.MaxListeners,
			BurstSize:        m.BurstSize,
			QueueSizeLimit:   m.QueueSizeLimit,
			Hidden:           m.Hidden,
			OnDemand:         m.OnDemand,
			ShoutcastCompat:  m.ShoutcastCompat,
		}
		if err := s.UpsertMount(ctx, row); err != nil {
			return fmt.Errorf("mountstore: seed mount %q: %w", m.Name, err)
		}
		if m.Username != "" {
			if err := s.SetCredential(ctx, m.Name, m.Username, m.Password); err != nil {
				return fmt.Errorf("mountstore: seed credential for %q: %w", m.Name, err)
			}
		}
	}
	return nil
}
