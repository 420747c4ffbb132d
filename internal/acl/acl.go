/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package acl implements the per-role access-control list: HTTP-method
// policy, a fixed-capacity admin-command table, a web-surface policy, and
// connection limits.
package acl

import (
	"errors"
	"strings"
)

// Policy is an ALLOW/DENY/ERROR decision.
type Policy int

const (
	PolicyDeny Policy = iota
	PolicyAllow
	PolicyError
)

func (p Policy) String() string {
	switch p {
	case PolicyAllow:
		return "ALLOW"
	case PolicyDeny:
		return "DENY"
	default:
		return "ERROR"
	}
}

// adminTableCapacity is the fixed capacity of the admin-command table —
// exceeding it returns an error from AddAdminPolicy without corrupting the
// ACL (spec.md §4.H).
const adminTableCapacity = 32

// ErrAdminTableFull is returned when AddAdminPolicy is called after the
// table already holds adminTableCapacity entries.
var ErrAdminTableFull = errors.New("acl: admin command table is full")

// ConnectionsPerUser encodes the `connections-per-user` setting.
// -1 means "not set" (inherit from the default ACL); 0 means explicitly
// unlimited. This follows spec.md §9's correction of the legacy
// silently-coerce-missing-to-zero behavior.
type ConnectionsPerUser int

const ConnectionsPerUserNotSet ConnectionsPerUser = -1

// ACL is a per-role policy set.
type ACL struct {
	methodPolicy     map[string]Policy
	defaultMethod    Policy
	adminPolicy      map[string]Policy
	adminOrder       []string
	defaultAdmin     Policy
	webPolicy        Policy
	maxConnDuration  int // seconds, 0 = unlimited
	connsPerUser     ConnectionsPerUser
	httpHeaders      map[string]string
}

// New creates an ACL with deny-by-default method and admin policies and
// an allow-by-default web policy, matching the teacher's "fail closed on
// methods/admin, fail open on plain web GETs" convention.
func New() *ACL {
	return &ACL{
		methodPolicy:    make(map[string]Policy),
		defaultMethod:   PolicyDeny,
		adminPolicy:     make(map[string]Policy),
		defaultAdmin:    PolicyDeny,
		webPolicy:       PolicyAllow,
		connsPerUser:    ConnectionsPerUserNotSet,
		httpHeaders:     make(map[string]string),
	}
}

// SetMethodPolicy sets the policy for a single HTTP method, or for every
// method when method is "*".
func (a *ACL) SetMethodPolicy(method string, policy Policy) {
	method = strings.ToUpper(method)
	if method == "*" {
		a.defaultMethod = policy
		return
	}
	a.methodPolicy[method] = policy
}

// TestMethod returns the policy for method.
func (a *ACL) TestMethod(method string) Policy {
	if p, ok := a.methodPolicy[strings.ToUpper(method)]; ok {
		return p
	}
	return a.defaultMethod
}

// AddAdminPolicy binds a command id to a policy. Exceeding the 32-entry
// capacity returns ErrAdminTableFull without modifying the table.
func (a *ACL) AddAdminPolicy(commandID string, policy Policy) error {
	if commandID == "*" {
		a.defaultAdmin = policy
		return nil
	}
	if _, exists := a.adminPolicy[commandID]; !exists {
		if len(a.adminOrder) >= adminTableCapacity {
			return ErrAdminTableFull
		}
		a.adminOrder = append(a.adminOrder, commandID)
	}
	a.adminPolicy[commandID] = policy
	return nil
}

// TestAdmin looks up an explicit entry for commandID, falling back to the
// catch-all policy.
func (a *ACL) TestAdmin(commandID string) Policy {
	if p, ok := a.adminPolicy[commandID]; ok {
		return p
	}
	return a.defaultAdmin
}

// SetWebPolicy sets the plain (non-admin) web-surface policy.
func (a *ACL) SetWebPolicy(policy Policy) { a.webPolicy = policy }

// TestWeb returns the web-surface policy.
func (a *ACL) TestWeb() Policy { return a.webPolicy }

// SetMaxConnectionDuration sets the per-connection duration cap in
// seconds; 0 means unlimited.
func (a *ACL) SetMaxConnectionDuration(seconds int) { a.maxConnDuration = seconds }

// MaxConnectionDuration returns the per-connection duration cap.
func (a *ACL) MaxConnectionDuration() int { return a.maxConnDuration }

// SetMaxConnectionsPerUser sets the per-credential connection cap.
func (a *ACL) SetMaxConnectionsPerUser(n ConnectionsPerUser) { a.connsPerUser = n }

// MaxConnectionsPerUser returns the per-credential connection cap.
func (a *ACL) MaxConnectionsPerUser() ConnectionsPerUser { return a.connsPerUser }

// SetHTTPHeader sets a per-role header to emit to clients bound to this ACL.
func (a *ACL) SetHTTPHeader(name, value string) { a.httpHeaders[name] = value }

// HTTPHeaders returns a copy of the per-role header set.
func (a *ACL) HTTPHeaders() map[string]string {
	out := make(map[string]string, len(a.httpHeaders))
	for k, v := range a.httpHeaders {
		out[k] = v
	}
	return out
}

// ParseMethodAttribute parses an attribute-form method list like
// "get,options" or "*" into individual SetMethodPolicy calls, matching the
// constructor grammar of `allow-method="get,options"` / `deny-method="*"`.
func (a *ACL) ParseMethodAttribute(value string, policy Policy) {
	for _, m := range strings.Split(value, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		a.SetMethodPolicy(m, policy)
	}
}
