/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package authstack

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HTPasswd authenticates against an in-memory username → bcrypt-hash
// table, the Go-native equivalent of the legacy htpasswd-file
// authenticator.
type HTPasswd struct {
	mu    sync.RWMutex
	hash  map[string][]byte
	role  string
}

// NewHTPasswd creates an empty HTPasswd authenticator binding role on
// success.
func NewHTPasswd(role string) *HTPasswd {
	return &HTPasswd{hash: make(map[string][]byte), role: role}
}

// SetPassword stores the bcrypt hash of password for username, replacing
// any prior entry.
func (h *HTPasswd) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hash[username] = hash
	return nil
}

// Authenticate returns NOMATCH for an unknown username (so an outer scope
// can still try), FAIL for a known username with a wrong password, and OK
// with the bound role/username on a match.
func (h *HTPasswd) Authenticate(_ context.Context, id Identity) (Result, Binding) {
	h.mu.RLock()
	hash, known := h.hash[id.Username]
	h.mu.RUnlock()
	if !known {
		return ResultNoMatch, Binding{}
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(id.Password)) != nil {
		return ResultFail, Binding{}
	}
	return ResultOK, Binding{Role: h.role, Username: id.Username}
}
