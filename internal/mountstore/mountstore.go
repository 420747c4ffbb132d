/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mountstore is the durable control plane behind spec.md §6.7's
// mount configuration: mount definitions, their ACLs, and source
// credentials, all behind gorm, loaded into the in-memory
// source.Config/acl.ACL snapshot internal/dispatcher and internal/source
// consume. Nothing here is on the hot request path — it is read at
// startup and on explicit reload only.
package mountstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/icecastgo/internal/config"
)

// ErrUnknownMount is returned when a mount name has no persisted row.
var ErrUnknownMount = errors.New("mountstore: unknown mount")

// ErrBadCredential is returned when a source credential check fails.
var ErrBadCredential = errors.New("mountstore: invalid credential")

// MountRow is the durable row for one mount's configuration, mirroring
// the teacher's flat per-entity table shape rather than a normalized
// join across several tables.
type MountRow struct {
	ID                  string `gorm:"type:uuid;primaryKey"`
	Name                string `gorm:"uniqueIndex"`
	Type                string `gorm:"type:varchar(16)"` // "NORMAL" or "DEFAULT"
	FallbackMount       string
	FallbackWhenFull    bool
	FallbackOverride    int
	MaxListeners        int
	BurstSize           int
	QueueSizeLimit      int
	SourceTimeoutSec    int
	Hidden              bool
	MaxListenerDurSec   int
	OnDemand            bool
	ShoutcastCompat     bool
	NoMount             bool
	YPPublic            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (MountRow) TableName() string { return "mounts" }

// CredentialRow is one source login allowed to publish to a mount.
// PasswordHash is bcrypt, matching the teacher's own password handling
// convention for user accounts.
type CredentialRow struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	MountName    string `gorm:"index"`
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

func (CredentialRow) TableName() string { return "source_credentials" }

// ACLEntryRow is one admin-command or method policy row scoped to a
// mount (MountName == "") means the global ACL.
type ACLEntryRow struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	MountName string `gorm:"index"`
	Kind      string `gorm:"type:varchar(8)"` // "method" or "admin"
	Key       string // method name, "*", or admin command id
	Allow     bool
}

func (ACLEntryRow) TableName() string { return "acl_entries" }

// Store wraps the gorm handle and the mount-config read operations
// internal/source and internal/dispatcher need.
type Store struct {
	db *gorm.DB
}

// Open dials the control-plane database selected by cfg.DBBackend and
// auto-migrates the mountstore tables.
func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.DBBackend {
	case config.DatabasePostgres:
		dialector = postgres.Open(cfg.DBDSN)
	case config.DatabaseMySQL:
		dialector = mysql.Open(cfg.DBDSN)
	case config.DatabaseSQLite:
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("mountstore: unsupported db backend %q", cfg.DBBackend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("mountstore: open: %w", err)
	}
	if err := db.AutoMigrate(&MountRow{}, &CredentialRow{}, &ACLEntryRow{}); err != nil {
		return nil, fmt.Errorf("mountstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle, for tests (sqlite
// in-memory) and callers that manage the connection lifecycle themselves.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&MountRow{}, &CredentialRow{}, &ACLEntryRow{}); err != nil {
		return nil, fmt.Errorf("mountstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection, mirroring the
// teacher's own db.Close(database) teardown step.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertMount creates or replaces the row for row.Name.
func (s *Store) UpsertMount(ctx context.Context, row MountRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).
		Where(MountRow{Name: row.Name}).
		Assign(row).
		FirstOrCreate(&MountRow{}).Error
}

// DeleteMount removes a mount's row and its credentials/ACL entries.
func (s *Store) DeleteMount(ctx context.Context, name string) error {
	tx := s.db.WithContext(ctx)
	if err := tx.Where("mount_name = ?", name).Delete(&CredentialRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("mount_name = ?", name).Delete(&ACLEntryRow{}).Error; err != nil {
		return err
	}
	return tx.Where("name = ?", name).Delete(&MountRow{}).Error
}

// Mount loads one mount's row by name.
func (s *Store) Mount(ctx context.Context, name string) (MountRow, error) {
	var row MountRow
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MountRow{}, ErrUnknownMount
	}
	return row, err
}

// AllMounts loads every persisted mount row, for building the full
// in-memory snapshot at startup.
func (s *Store) AllMounts(ctx context.Context) ([]MountRow, error) {
	var rows []MountRow
	err := s.db.WithContext(ctx).Find(&rows).Error
	return rows, err
}

// SetCredential creates or replaces a source login for a mount, hashing
// password with bcrypt.
func (s *Store) SetCredential(ctx context.Context, mount, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("mountstore: hash credential: %w", err)
	}
	row := CredentialRow{
		ID:           uuid.NewString(),
		MountName:    mount,
		Username:     username,
		PasswordHash: string(hash),
	}
	return s.db.WithContext(ctx).
		Where(CredentialRow{MountName: mount, Username: username}).
		Assign(row).
		FirstOrCreate(&CredentialRow{}).Error
}

// CheckCredential verifies username/password against the mount's stored
// credentials, returning ErrBadCredential on any mismatch (wrong
// username, wrong password, or the mount has no credentials at all).
func (s *Store) CheckCredential(ctx context.Context, mount, username, password string) error {
	var row CredentialRow
	err := s.db.WithContext(ctx).
		Where("mount_name = ? AND username = ?", mount, username).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBadCredential
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)) != nil {
		return ErrBadCredential
	}
	return nil
}

// ACLEntries loads every policy row for a mount (mount == "" for global).
func (s *Store) ACLEntries(ctx context.Context, mount string) ([]ACLEntryRow, error) {
	var rows []ACLEntryRow
	err := s.db.WithContext(ctx).Where("mount_name = ?", mount).Find(&rows).Error
	return rows, err
}
