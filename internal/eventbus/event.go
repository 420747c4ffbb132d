/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus implements the two event surfaces the core relies on:
// a queued "slowevent" bus with pluggable backends (log, exec, url,
// terminate) and a synchronous "fastevent" hook table for in-path
// notifications like CLIENT_AUTHED or CONNECTION_READ.
package eventbus

import "time"

// Trigger names the event kind. These line up with the exec/URL sink
// environment variable EVENT_TRIGGER (spec.md §6.8).
type Trigger string

const (
	TriggerClientAuthed    Trigger = "client-authed"
	TriggerConnectionRead  Trigger = "connection-read"
	TriggerSourceConnect   Trigger = "source-connect"
	TriggerSourceDisconnect Trigger = "source-disconnect"
	TriggerListenerAdd     Trigger = "listener-add"
	TriggerListenerRemove  Trigger = "listener-remove"
	TriggerFallback        Trigger = "fallback"
	TriggerAdminCommand    Trigger = "admin-command"
)

// Event carries the typed extras described in spec.md §3 — only the
// fields relevant to the emitted Trigger are populated.
type Event struct {
	Trigger   Trigger
	Timestamp time.Time

	URI              string
	ConnectionIP     string
	ClientRole       string
	ClientUsername   string
	ClientUserAgent  string
	SourceMediaType  string
	SourceInstanceID string
	DumpfileFilename string

	ConnectionID      uint64
	ConnectionTime    time.Duration
	AdminCommand      string

	Mount string
}

// Env returns the exec/URL sink environment variable set for this event,
// per spec.md §6.8, merged with the given base (ICECAST_* constants).
func (e Event) Env(base map[string]string) map[string]string {
	env := make(map[string]string, len(base)+12)
	for k, v := range base {
		env[k] = v
	}
	env["EVENT_TRIGGER"] = string(e.Trigger)
	env["EVENT_URI"] = e.URI
	env["SOURCE_MEDIA_TYPE"] = e.SourceMediaType
	env["CLIENT_IP"] = e.ConnectionIP
	env["CLIENT_ROLE"] = e.ClientRole
	env["CLIENT_USERNAME"] = e.ClientUsername
	env["CLIENT_USERAGENT"] = e.ClientUserAgent
	env["CLIENT_CONNECTION_TIME"] = e.ConnectionTime.String()
	env["CLIENT_ADMIN_COMMAND"] = e.AdminCommand
	if e.Mount != "" {
		env["MOUNT_NAME"] = e.Mount
	}
	if e.SourceInstanceID != "" {
		env["SOURCE_INSTANCE_UUID"] = e.SourceInstanceID
	}
	return env
}
