/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package authstack

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// URLCallback authenticates by POSTing the presented credentials to an
// external HTTP endpoint and interpreting its status code: 200 is OK,
// 401/403 is FAIL, anything else (including a transport error) is
// NOMATCH — per spec.md §7's "authentication sink failures yield NOMATCH,
// not FAIL, so a broken sink can't silently deny".
type URLCallback struct {
	Endpoint string
	Role     string
	Client   *http.Client
	Timeout  time.Duration
}

// NewURLCallback creates a URLCallback authenticator posting to endpoint.
func NewURLCallback(endpoint, role string) *URLCallback {
	return &URLCallback{Endpoint: endpoint, Role: role, Timeout: 5 * time.Second}
}

func (c *URLCallback) Authenticate(ctx context.Context, id Identity) (Result, Binding) {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}

	form := url.Values{
		"username": {id.Username},
		"password": {id.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, nil)
	if err != nil {
		return ResultNoMatch, Binding{}
	}
	req.URL.RawQuery = form.Encode()

	resp, err := client.Do(req)
	if err != nil {
		return ResultNoMatch, Binding{}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return ResultOK, Binding{Role: c.Role, Username: id.Username}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ResultFail, Binding{}
	default:
		return ResultNoMatch, Binding{}
	}
}
