/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package report implements the stable error-id → (HTTP status, UUID,
// message) table and the structured report-tree model consumed by
// administration endpoints.
package report

// ID is a stable, internal symbolic error identifier. IDs must never be
// renumbered across releases — external callers key off the UUID, but
// internal code keys off ID, and both must keep meaning the same thing.
type ID int

const (
	ErrMalformedProtocol ID = iota + 1
	ErrUnsupportedMethod
	ErrInvalidURI
	ErrBadUpgrade
	ErrNeedsAuth
	ErrForbidden
	ErrAuthBusy
	ErrGlobalClientLimit
	ErrSourceLimit
	ErrCredentialLimit
	ErrMountMaxListeners
	ErrMountInUse
	ErrStreamPrepFailed
	ErrContentTypeUnsupported
	ErrNoContentType
	ErrFileNotFound
	ErrFileNotReadable
	ErrRangeNotSatisfiable
	ErrOutOfMemory
	ErrHeaderBuildFailed
	ErrBufferRealloc
	ErrXSLTProblem
	ErrRecursiveFailure
)

// Entry is one row of the error table.
type Entry struct {
	Symbol     string
	ID         ID
	HTTPStatus int
	UUID       string
	Message    string
}

// Table is the fixed, stable error table. HTTP statuses are concrete
// throughout — the spec.md §9 open question about `XXX` placeholders was
// resolved by assigning every entry a real status during the rewrite (see
// DESIGN.md).
var Table = []Entry{
	{"malformed-protocol", ErrMalformedProtocol, 400, "1f2b9c3a-8a4e-4e8a-9b9b-6b4c8f1a2d01", "malformed request"},
	{"unsupported-method", ErrUnsupportedMethod, 405, "2a3c0d4b-9b5f-4f9b-8c8c-7c5d902b3e02", "method not supported on this resource"},
	{"invalid-uri", ErrInvalidURI, 400, "3b4d1e5c-ac60-4f0a-9d9d-8d6ea13c4f03", "request uri failed normalization"},
	{"bad-upgrade", ErrBadUpgrade, 400, "4c5e2f6d-bd71-4a1b-aeae-9e7fb24d5004", "unsupported upgrade request"},
	{"needs-auth", ErrNeedsAuth, 401, "5d6f3071-ce82-4b2c-bfbf-af80c35e6105", "authentication required"},
	{"forbidden", ErrForbidden, 403, "6e704182-df93-4c3d-c0c0-b091d46f7206", "access forbidden"},
	{"auth-busy", ErrAuthBusy, 503, "7f815293-e0a4-4d4e-d1d1-c1a2e5708307", "authentication backend busy"},
	{"global-client-limit", ErrGlobalClientLimit, 503, "809263a4-f1b5-4e5f-e2e2-d2b3f6819408", "server is at the global client limit"},
	{"source-limit", ErrSourceLimit, 503, "9103749f-7e8f-4b76-eef8-3a45902b1509", "server is at the source limit"},
	{"credential-limit", ErrCredentialLimit, 429, "a2148512-13c7-460f-f4f4-e4d510a2b610", "per-credential connection limit exceeded"},
	{"mount-max-listeners", ErrMountMaxListeners, 503, "b3259623-24d8-471f-0505-f5e621b3c711", "mount is at its listener limit"},
	{"mount-in-use", ErrMountInUse, 409, "c5724467-5f85-48c7-b45a-915c3150c292", "mount already in use"},
	{"stream-prep-failed", ErrStreamPrepFailed, 500, "d4376745-6a96-4a8e-1717-174833d4e913", "failed to prepare stream"},
	{"content-type-unsupported", ErrContentTypeUnsupported, 415, "e5487856-7ba7-4b9f-2828-285944e5fa14", "content-type not supported"},
	{"no-content-type", ErrNoContentType, 400, "f6598967-8cb8-4ca0-3939-396a55f60b15", "no content-type supplied"},
	{"file-not-found", ErrFileNotFound, 404, "07609a78-9dc9-4db1-4a4a-4a7b66071c16", "file not found"},
	{"file-not-readable", ErrFileNotReadable, 404, "1871ab89-aeda-4ec2-5b5b-5b8c77182d17", "file not readable"},
	{"range-not-satisfiable", ErrRangeNotSatisfiable, 416, "2982bc9a-bfeb-4fd3-6c6c-6c9d88293e18", "requested range not satisfiable"},
	{"out-of-memory", ErrOutOfMemory, 503, "3a93cdab-c0fc-4ee4-7d7d-7dae993a4f19", "server out of memory"},
	{"header-build-failed", ErrHeaderBuildFailed, 500, "4ba4deba-d10d-4ff5-8e8e-8ebfaa4b5a20", "failed to build response headers"},
	{"buffer-realloc-failed", ErrBufferRealloc, 500, "5cb5efab-e21e-4006-9f9f-9fc0bb5c6b21", "buffer reallocation failed"},
	{"xslt-problem", ErrXSLTProblem, 500, "6dc6f0ac-f32f-4117-a0a0-a0d1cc6d7c22", "xslt rendering failed"},
	{"recursive-failure", ErrRecursiveFailure, 500, "7ed701bd-0440-4228-b1b1-b1e2dd7e8d23", "error handler itself failed"},
}

// ByID looks up an entry by its symbolic ID, O(N) over the (small) table.
// Returns false if absent.
func ByID(id ID) (Entry, bool) {
	for _, e := range Table {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ByUUID looks up an entry by its external UUID, O(N) over the table.
// Returns false if absent.
func ByUUID(uuid string) (Entry, bool) {
	for _, e := range Table {
		if e.UUID == uuid {
			return e, true
		}
	}
	return Entry{}, false
}
