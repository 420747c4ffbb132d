/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package matchfile implements the IP allow/deny list: a plain text file
// of one token per line, hot-reloaded on mtime change, with the
// allow/deny combination rule spec.md §4.R describes.
package matchfile

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// minReloadInterval rate-limits reloads to once per 10 seconds even if
// the filesystem watcher fires more often (editors frequently touch a
// file's mtime several times in quick succession while saving).
const minReloadInterval = 10 * time.Second

// File is a loaded, hot-reloadable set of tokens.
type File struct {
	mu       sync.RWMutex
	path     string
	set      map[string]struct{}
	lastLoad time.Time
	logger   zerolog.Logger
}

// Load reads path once and returns a File. An empty path yields an empty,
// always-missing File (every Match call returns false) so callers can
// treat "no allow file configured" and "allow file configured but empty"
// uniformly.
func Load(path string, logger zerolog.Logger) (*File, error) {
	f := &File{
		path:   path,
		set:    make(map[string]struct{}),
		logger: logger.With().Str("component", "matchfile").Str("path", path).Logger(),
	}
	if path == "" {
		return f, nil
	}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) reload() error {
	fh, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer fh.Close()

	set := make(map[string]struct{})
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.set = set
	f.lastLoad = time.Now()
	f.mu.Unlock()
	return nil
}

// Match reports whether key is present in the loaded set.
func (f *File) Match(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.set[key]
	return ok
}

// Watch runs an fsnotify watcher on the file itself until ctx's done
// channel closes (callers pass a context.Context's Done() via stop),
// reloading the file whenever its mtime changes, rate-limited to once per
// minReloadInterval. It is a no-op (returns nil immediately) when the
// File was constructed with an empty path.
func (f *File) Watch(stop <-chan struct{}) error {
	if f.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(f.path); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			f.mu.RLock()
			since := time.Since(f.lastLoad)
			f.mu.RUnlock()
			if since < minReloadInterval {
				continue
			}
			if err := f.reload(); err != nil {
				f.logger.Warn().Err(err).Msg("matchfile reload failed")
				continue
			}
			f.logger.Info().Msg("matchfile reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn().Err(err).Msg("matchfile watcher error")
		}
	}
}

// Decision is the outcome of an allow/deny evaluation.
type Decision int

const (
	Accept Decision = iota
	Reject
)

// MatchAllowDeny implements spec.md's combination rule: a deny hit always
// rejects; an allow file present with a miss rejects; anything else
// accepts. Either file may be nil, meaning "not configured".
func MatchAllowDeny(allow, deny *File, key string) Decision {
	if deny != nil && deny.Match(key) {
		return Reject
	}
	if allow != nil && allow.configured() && !allow.Match(key) {
		return Reject
	}
	return Accept
}

// configured reports whether the file was loaded from a real path (as
// opposed to the always-empty sentinel returned for an empty path).
func (f *File) configured() bool {
	return f.path != ""
}
