/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package authstack implements the composable authentication stack:
// ordered authenticators returning OK/FAIL/NOMATCH/FORBIDDEN/BUSY, and the
// scope composition listener → mount(NORMAL) → mount(DEFAULT) → global
// from spec.md §4.I.
package authstack

import (
	"context"

	"github.com/friendsincode/icecastgo/internal/acl"
)

// Result is the outcome of a single authenticator or a composed stack.
type Result int

const (
	ResultNoMatch Result = iota
	ResultOK
	ResultFail
	ResultForbidden
	ResultBusy
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultFail:
		return "FAIL"
	case ResultForbidden:
		return "FORBIDDEN"
	case ResultBusy:
		return "BUSY"
	default:
		return "NOMATCH"
	}
}

// Identity is the credential material presented by a client, gathered
// from Basic-auth, query parameters, or a bearer token, before an
// authenticator has run.
type Identity struct {
	Username     string
	Password     string
	BearerToken  string
	AdminCommand string // set when the request targets an admin command
}

// Binding is what an authenticator attaches to the client on OK: the ACL
// and role/username to use for the remainder of the request.
type Binding struct {
	ACL      *acl.ACL
	Role     string
	Username string
}

// Authenticator is one entry in a Stack.
type Authenticator interface {
	Authenticate(ctx context.Context, id Identity) (Result, Binding)
}

// Stack is an ordered list of Authenticators scoped to one level
// (listener, mount, or global).
type Stack struct {
	authenticators []Authenticator
}

// New creates a Stack from an ordered authenticator list.
func New(authenticators ...Authenticator) *Stack {
	return &Stack{authenticators: authenticators}
}

// Run walks the stack in order. An authenticator's OK/FAIL/FORBIDDEN/BUSY
// stops the walk immediately; NOMATCH continues to the next authenticator
// in *this* stack. If every authenticator in the stack returns NOMATCH
// (or the stack is empty), Run returns NOMATCH so the caller can continue
// to the next outer scope.
func (s *Stack) Run(ctx context.Context, id Identity) (Result, Binding) {
	if s == nil {
		return ResultNoMatch, Binding{}
	}
	for _, a := range s.authenticators {
		res, binding := a.Authenticate(ctx, id)
		if res != ResultNoMatch {
			return res, binding
		}
	}
	return ResultNoMatch, Binding{}
}

// Composed runs the listener → mount(NORMAL) → mount(DEFAULT) → global
// scope chain per spec.md §4.I's composition table. Scopes given as nil
// are skipped (NOMATCH). The admin-override carve-out — a mount-denied
// admin command is never unlocked by an outer global OK — is enforced by
// the caller (internal/dispatcher) via acl.TestAdmin on the bound ACL,
// since that check depends on which scope's ACL actually matched.
func Composed(ctx context.Context, id Identity, scopes ...*Stack) (Result, Binding) {
	for _, scope := range scopes {
		res, binding := scope.Run(ctx, id)
		switch res {
		case ResultNoMatch:
			continue
		default:
			return res, binding
		}
	}
	return ResultNoMatch, Binding{}
}
