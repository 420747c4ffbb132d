/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package authstack

import "context"

// Anonymous always returns the same fixed result regardless of presented
// credentials — used either as an always-OK listener authenticator (open
// mount) or, configured with NoMatch, as a deliberate pass-through so an
// outer scope gets a chance to authenticate instead (spec.md S5).
type Anonymous struct {
	Result  Result
	Binding Binding
}

// NewAnonymousAllow returns an Anonymous authenticator that always
// succeeds with role.
func NewAnonymousAllow(role string) Anonymous {
	return Anonymous{Result: ResultOK, Binding: Binding{Role: role}}
}

// NewAnonymousNoMatch returns an Anonymous authenticator that always
// defers to the next outer scope.
func NewAnonymousNoMatch() Anonymous {
	return Anonymous{Result: ResultNoMatch}
}

func (a Anonymous) Authenticate(_ context.Context, _ Identity) (Result, Binding) {
	return a.Result, a.Binding
}
