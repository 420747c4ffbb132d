/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stats implements the thread-safe (scope, name) -> value store
// spec.md §4.S describes: a global scope plus one scope per mount,
// exported both as Prometheus gauges and as the XML snapshot the legacy
// stats/XSLT surface renders.
package stats

import (
	"encoding/xml"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GlobalScope is the reserved scope name for server-wide counters (total
// listeners, total sources, uptime, …), as opposed to a per-mount scope
// named after the mount itself.
const GlobalScope = "global"

// ChangeHook is invoked synchronously whenever a (scope, name) entry is
// set, incremented, decremented or unset — the "internal events on
// change" spec.md calls for. This is intentionally a small local
// subscriber list rather than the slowevent bus: stat updates can be
// extremely high frequency (bytes-sent counters tick on every write) and
// would overrun the bus's bounded queue.
type ChangeHook func(scope, name string, value float64, removed bool)

// Tree is the (scope, name) -> value store. Zero value is not usable;
// construct with New.
type Tree struct {
	mu     sync.RWMutex
	values map[string]map[string]float64
	hooks  []ChangeHook

	gauge *prometheus.GaugeVec
}

// New creates a Tree and registers its Prometheus gauge vector against
// reg (pass prometheus.DefaultRegisterer, or a dedicated
// prometheus.NewRegistry() in tests to avoid cross-test collisions).
func New(reg prometheus.Registerer) *Tree {
	return &Tree{
		values: make(map[string]map[string]float64),
		gauge: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "icecastgo",
			Name:      "stat_value",
			Help:      "Current value of an internal (scope,name) stats entry.",
		}, []string{"scope", "name"}),
	}
}

// OnChange registers a hook called after every Set/Inc/Dec/Unset.
func (t *Tree) OnChange(hook ChangeHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, hook)
}

func (t *Tree) notify(scope, name string, value float64, removed bool) {
	t.mu.RLock()
	hooks := append([]ChangeHook(nil), t.hooks...)
	t.mu.RUnlock()
	for _, h := range hooks {
		h(scope, name, value, removed)
	}
}

// Set stores value for (scope, name), overwriting any previous value.
func (t *Tree) Set(scope, name string, value float64) {
	t.mu.Lock()
	if t.values[scope] == nil {
		t.values[scope] = make(map[string]float64)
	}
	t.values[scope][name] = value
	t.mu.Unlock()

	t.gauge.WithLabelValues(scope, name).Set(value)
	t.notify(scope, name, value, false)
}

// Inc adds delta to (scope, name) (creating it at delta if absent) and
// returns the new value.
func (t *Tree) Inc(scope, name string, delta float64) float64 {
	t.mu.Lock()
	if t.values[scope] == nil {
		t.values[scope] = make(map[string]float64)
	}
	t.values[scope][name] += delta
	v := t.values[scope][name]
	t.mu.Unlock()

	t.gauge.WithLabelValues(scope, name).Set(v)
	t.notify(scope, name, v, false)
	return v
}

// Dec subtracts delta from (scope, name) and returns the new value.
func (t *Tree) Dec(scope, name string, delta float64) float64 {
	return t.Inc(scope, name, -delta)
}

// Unset removes (scope, name) entirely. Its Prometheus series is
// explicitly deleted rather than left at a stale value.
func (t *Tree) Unset(scope, name string) {
	t.mu.Lock()
	if m, ok := t.values[scope]; ok {
		delete(m, name)
		if len(m) == 0 {
			delete(t.values, scope)
		}
	}
	t.mu.Unlock()

	t.gauge.DeleteLabelValues(scope, name)
	t.notify(scope, name, 0, true)
}

// Get returns the current value of (scope, name) and whether it exists.
func (t *Tree) Get(scope, name string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[scope][name]
	return v, ok
}

// Snapshot returns a deep copy of the entire tree, safe to read or
// serialize without further locking.
func (t *Tree) Snapshot() map[string]map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[string]float64, len(t.values))
	for scope, m := range t.values {
		cp := make(map[string]float64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[scope] = cp
	}
	return out
}

type xmlStat struct {
	Name  string  `xml:"name,attr"`
	Value float64 `xml:",chardata"`
}

type xmlScope struct {
	Name  string    `xml:"name,attr"`
	Stats []xmlStat `xml:"stat"`
}

type xmlDoc struct {
	XMLName xml.Name   `xml:"icestats"`
	Scopes  []xmlScope `xml:"scope"`
}

// ToXML renders a deterministic (scope- and name-sorted) XML snapshot for
// the stats HTTP endpoint and the XSLT renderer.
func (t *Tree) ToXML() ([]byte, error) {
	snap := t.Snapshot()

	scopeNames := make([]string, 0, len(snap))
	for scope := range snap {
		scopeNames = append(scopeNames, scope)
	}
	sort.Strings(scopeNames)

	doc := xmlDoc{Scopes: make([]xmlScope, 0, len(scopeNames))}
	for _, scope := range scopeNames {
		m := snap[scope]
		names := make([]string, 0, len(m))
		for n := range m {
			names = append(names, n)
		}
		sort.Strings(names)

		sc := xmlScope{Name: scope, Stats: make([]xmlStat, 0, len(names))}
		for _, n := range names {
			sc.Stats = append(sc.Stats, xmlStat{Name: n, Value: m[n]})
		}
		doc.Scopes = append(doc.Scopes, sc)
	}

	return xml.MarshalIndent(doc, "", "  ")
}
