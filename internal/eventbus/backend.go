/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// Backend consumes a single event for a registration. Per spec.md §7
// ("Authentication sink failures yield NOMATCH, not FAIL"), a backend
// failure here never propagates into business state — it is logged and
// swallowed by the dispatch loop.
type Backend interface {
	Consume(ctx context.Context, ev Event) error
}

// LogBackend writes the event as a structured log line.
type LogBackend struct {
	Logger zerolog.Logger
}

func (b LogBackend) Consume(_ context.Context, ev Event) error {
	b.Logger.Info().
		Str("trigger", string(ev.Trigger)).
		Str("mount", ev.Mount).
		Str("uri", ev.URI).
		Msg("event")
	return nil
}

// ExecBackend runs an external command with the spec.md §6.8 environment
// variables set, mirroring the legacy "exec" event sink.
type ExecBackend struct {
	Command  string
	Args     []string
	BaseEnv  map[string]string
	Timeout  time.Duration
}

func (b ExecBackend) Consume(ctx context.Context, ev Event) error {
	timeout := b.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.Command, b.Args...)
	env := ev.Env(b.BaseEnv)
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	return cmd.Run()
}

// URLBackend POSTs the event as a JSON-ish form body to a webhook URL.
type URLBackend struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (b URLBackend) Consume(ctx context.Context, ev Event) error {
	client := b.Client
	if client == nil {
		timeout := b.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	body := fmt.Sprintf(`{"trigger":%q,"mount":%q,"uri":%q}`, ev.Trigger, ev.Mount, ev.URI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("eventbus: url backend %s returned %d", b.URL, resp.StatusCode)
	}
	return nil
}

// TerminateBackend invokes a shutdown function, the rewrite's equivalent
// of the legacy "terminate" sink that asks the process to exit on a
// specific trigger (e.g. an admin "shutdown" event).
type TerminateBackend struct {
	Shutdown func()
}

func (b TerminateBackend) Consume(_ context.Context, _ Event) error {
	if b.Shutdown != nil {
		b.Shutdown()
	}
	return nil
}
