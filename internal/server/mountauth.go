/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"

	"github.com/friendsincode/icecastgo/internal/authstack"
	"github.com/friendsincode/icecastgo/internal/mountstore"
)

// mountCredAuthenticator is an authstack.Authenticator backed directly by
// mountstore's bcrypt-hashed source credentials, rather than a second
// in-memory copy the way authstack.HTPasswd holds its table — mountstore
// is already the durable source of truth, so the NORMAL auth scope reads
// through to it on every SOURCE/PUT connect instead of needing a reload
// step kept in sync by hand.
type mountCredAuthenticator struct {
	store *mountstore.Store
	mount string
	role  string
}

func (a *mountCredAuthenticator) Authenticate(ctx context.Context, id authstack.Identity) (authstack.Result, authstack.Binding) {
	if id.Username == "" {
		return authstack.ResultNoMatch, authstack.Binding{}
	}
	err := a.store.CheckCredential(ctx, a.mount, id.Username, id.Password)
	switch {
	case err == nil:
		return authstack.ResultOK, authstack.Binding{Role: a.role, Username: id.Username}
	case errors.Is(err, mountstore.ErrBadCredential):
		return authstack.ResultFail, authstack.Binding{}
	default:
		return authstack.ResultFail, authstack.Binding{}
	}
}
