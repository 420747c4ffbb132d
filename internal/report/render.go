/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package report

import (
	"fmt"
	"net/http"
	"strings"
)

// Format selects how an error body is rendered.
type Format int

const (
	FormatPlain Format = iota
	FormatRawXML
	FormatXSLT
)

// NegotiateFormat picks a rendering Format from an Accept header value,
// defaulting to plaintext.
func NegotiateFormat(accept string) Format {
	switch {
	case strings.Contains(accept, "application/xml"), strings.Contains(accept, "text/xml"):
		return FormatRawXML
	case strings.Contains(accept, "text/html"):
		return FormatXSLT
	default:
		return FormatPlain
	}
}

// WriteError looks up id, sets the HTTP status, and writes a body in the
// requested format. If id is itself unknown, it falls back to
// ErrRecursiveFailure rather than ever calling itself again — errors
// handling errors must never recurse (spec.md §7's "Recursive" kind).
func WriteError(w http.ResponseWriter, id ID, format Format) {
	entry, ok := ByID(id)
	if !ok {
		entry, ok = ByID(ErrRecursiveFailure)
		if !ok {
			// The table itself is broken; there is nothing left to look
			// up. Emit the bare minimum without touching this function
			// again.
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "internal error")
			return
		}
	}

	w.Header().Set("X-Error-UUID", entry.UUID)
	switch format {
	case FormatRawXML:
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(entry.HTTPStatus)
		fmt.Fprintf(w, "<error><uuid>%s</uuid><message>%s</message></error>", entry.UUID, entry.Message)
	case FormatXSLT:
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(entry.HTTPStatus)
		fmt.Fprintf(w, "<html><body><h1>%s</h1><p>%s</p></body></html>", entry.Message, entry.UUID)
	default:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(entry.HTTPStatus)
		fmt.Fprintf(w, "%s (%s)\n", entry.Message, entry.UUID)
	}
}

// Incident is one node of the structured report-tree model consumed by
// administration endpoints: <report><incident><state/>...</incident></report>.
type Incident struct {
	State       string
	DefinitionUUID string
	Detail      string
	Children    []Incident
}

// DefinitionDB maps a definition UUID to shared state/fix text so
// multiple incidents referencing the same underlying problem don't repeat
// themselves.
type DefinitionDB struct {
	defs map[string]string
}

// NewDefinitionDB creates an empty database.
func NewDefinitionDB() *DefinitionDB {
	return &DefinitionDB{defs: make(map[string]string)}
}

// Define registers fix text under uuid.
func (d *DefinitionDB) Define(uuid, fix string) {
	d.defs[uuid] = fix
}

// Fix returns the shared fix text for uuid, if defined.
func (d *DefinitionDB) Fix(uuid string) (string, bool) {
	fix, ok := d.defs[uuid]
	return fix, ok
}

// RenderXML serializes an Incident tree as the report-tree's XML-ish
// structure. This is an administration-endpoint facility, not part of the
// hot request path.
func RenderXML(root Incident) string {
	var sb strings.Builder
	sb.WriteString("<report>")
	renderIncident(&sb, root)
	sb.WriteString("</report>")
	return sb.String()
}

func renderIncident(sb *strings.Builder, inc Incident) {
	sb.WriteString("<incident>")
	fmt.Fprintf(sb, "<state>%s</state>", inc.State)
	if inc.DefinitionUUID != "" {
		fmt.Fprintf(sb, "<definition>%s</definition>", inc.DefinitionUUID)
	}
	if inc.Detail != "" {
		fmt.Fprintf(sb, "<detail>%s</detail>", inc.Detail)
	}
	for _, child := range inc.Children {
		renderIncident(sb, child)
	}
	sb.WriteString("</incident>")
}
