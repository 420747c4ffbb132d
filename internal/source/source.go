/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/icecastgo/internal/ordindex"
	"github.com/friendsincode/icecastgo/internal/refbuf"
)

// FallbackOverride governs whether a newly-arriving source steals
// listeners back from whatever they fell over to.
type FallbackOverride int

const (
	FallbackOverrideNone FallbackOverride = iota
	FallbackOverrideAll
	FallbackOverrideOwn
)

// Config is the immutable mount-configuration view applied to a Source on
// attach (spec.md §3 "Mount configuration").
type Config struct {
	MountName           string
	Type                string // "NORMAL" or "DEFAULT"
	FallbackMount        string
	FallbackWhenFull     bool
	FallbackOverride     FallbackOverride
	MaxListeners         int // -1 = unlimited
	BurstSize            int
	QueueSizeLimit       int
	SourceTimeout        time.Duration
	Hidden               bool
	MaxListenerDuration  time.Duration
	HTTPHeaders          map[string]string
	OnDemand             bool
	ShoutcastCompat      bool
	// NoMount mirrors the original's no_mount: true rejects a listener's
	// directly requested attach to this mount while still serving it to
	// listeners that arrive via a fallback hop. The zero value (false)
	// means direct access is allowed, matching the original's default.
	NoMount              bool
	YPPublic             bool
}

// flags packs the source's boolean state atomically.
type flags struct {
	running      atomic.Bool
	onDemand     atomic.Bool
	onDemandReq  atomic.Bool
	hidden       atomic.Bool
}

// Source is the per-mount producer state machine.
type Source struct {
	Mount       string
	InstanceUUID string

	cfg   Config
	cfgMu sync.RWMutex

	flags flags

	ClientTree  *ordindex.Index[uint64, *Listener]
	PendingTree *ordindex.Index[uint64, *Listener]

	queueMu    sync.Mutex
	queueHead  *refbuf.RefBuf
	queueTail  *refbuf.RefBuf
	queueBytes int
	burstPoint *refbuf.RefBuf
	burstBytes int

	currentListeners atomic.Int64
	peakListeners    atomic.Int64

	lastListenerTime atomic.Int64 // unix nanos; set whenever client_tree becomes non-empty

	priority   atomic.Int64
	preempted  atomic.Bool
}

func uint64Cmp(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// New creates a Source for mount, not yet running, with a fresh
// instance-UUID — regenerated every time the source is reserved, per
// spec.md §3.
func New(mount string, cfg Config) *Source {
	s := &Source{
		Mount:        mount,
		InstanceUUID: uuid.NewString(),
		cfg:          cfg,
		ClientTree:   ordindex.New[uint64, *Listener](uint64Cmp),
		PendingTree:  ordindex.New[uint64, *Listener](uint64Cmp),
	}
	s.flags.onDemand.Store(cfg.OnDemand)
	s.flags.hidden.Store(cfg.Hidden)
	return s
}

// Config returns a copy of the currently-applied mount configuration.
func (s *Source) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// ApplyConfig replaces the mount configuration (e.g. after a config
// reread); in-flight listeners are unaffected until their next tick.
func (s *Source) ApplyConfig(cfg Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg
}

// SetRunning flips the running flag. Once false, no new listeners are
// merged from pending into client (spec.md's Source invariant); existing
// listeners drain via the fallback chain.
func (s *Source) SetRunning(v bool) { s.flags.running.Store(v) }

// Running reports the source's running flag.
func (s *Source) Running() bool { return s.flags.running.Load() }

// RequestOnDemand flags that a listener arrived at an idle on-demand
// source, asking the relay engine to re-initiate the upstream fetch.
func (s *Source) RequestOnDemand() { s.flags.onDemandReq.Store(true) }

// OnDemandRequested reports and clears the on-demand request flag.
func (s *Source) OnDemandRequested() bool {
	return s.flags.onDemandReq.Swap(false)
}

// OnDemand reports whether this source only connects upstream on demand.
func (s *Source) OnDemand() bool { return s.flags.onDemand.Load() }

// AddPending stages a newly attached listener for merge into ClientTree
// on the producer's next tick — listener-attach code never touches
// ClientTree directly, so producer-side sends never block on it.
func (s *Source) AddPending(l *Listener) {
	s.PendingTree.Insert(l.ID, l)
}

// MergePending drains PendingTree into ClientTree, initializing each
// newly merged listener's cursor at the current burst point. Only the
// source thread calls this.
func (s *Source) MergePending() {
	var toMerge []*Listener
	s.PendingTree.InOrder(func(_ uint64, l *Listener) bool {
		toMerge = append(toMerge, l)
		return true
	})
	if len(toMerge) == 0 {
		return
	}

	s.queueMu.Lock()
	burst := s.burstPoint
	s.queueMu.Unlock()

	for _, l := range toMerge {
		l.Advance(burst, 0)
		s.ClientTree.Insert(l.ID, l)
		s.PendingTree.Delete(l.ID, nil)
	}

	n := int64(s.ClientTree.Len())
	s.currentListeners.Store(n)
	if n > s.peakListeners.Load() {
		s.peakListeners.Store(n)
	}
	if n > 0 {
		s.lastListenerTime.Store(time.Now().UnixNano())
	}
}

// RemoveListener removes a listener from ClientTree (e.g. on error or
// graceful disconnect).
func (s *Source) RemoveListener(id uint64) {
	s.ClientTree.Delete(id, nil)
	s.currentListeners.Store(int64(s.ClientTree.Len()))
}

// CurrentListeners returns the current attached-listener count.
func (s *Source) CurrentListeners() int64 { return s.currentListeners.Load() }

// PeakListeners returns the high-water mark of attached listeners.
func (s *Source) PeakListeners() int64 { return s.peakListeners.Load() }

// IdleSince returns how long the source has had zero attached listeners,
// or 0 if it currently has listeners (or never has).
func (s *Source) IdleSince(now time.Time) time.Duration {
	if s.CurrentListeners() > 0 {
		return 0
	}
	last := s.lastListenerTime.Load()
	if last == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, last))
}

// AppendToQueue appends a RefBuf to the broadcast queue's tail. Only the
// source thread calls this — nodes are appended at the tail and never
// re-linked, per spec.md's invariant.
func (s *Source) AppendToQueue(rb *refbuf.RefBuf) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queueTail != nil {
		s.queueTail.SetNext(rb)
	} else {
		s.queueHead = rb
	}
	s.queueTail = rb
	if s.burstPoint == nil {
		s.burstPoint = rb
	}
	s.queueBytes += len(rb.Data)
	s.burstBytes += len(rb.Data)
}

// AdvanceBurstPoint moves the burst point forward, dropping nodes from
// the window's front, until the burst window is back within burst_size
// (spec.md's burst-bound testable property: ≤ burst_size + one refbuf).
// It also drops queue-head nodes entirely once the total queued bytes
// exceed queue_size_limit.
//
// burstPoint only ever slides a cursor across nodes the queue chain
// already owns (queueHead/queueTail) — it must not Unref them itself,
// or a node with BurstSize < QueueSizeLimit (the normal relationship)
// gets released twice: once here and once when the queue-eviction loop
// below actually unlinks it from queueHead. Only that second loop owns
// the release.
func (s *Source) AdvanceBurstPoint() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	cfg := s.Config()
	for s.burstPoint != nil && s.burstBytes > cfg.BurstSize {
		next := s.burstPoint.Next()
		if next == nil {
			break
		}
		s.burstBytes -= len(s.burstPoint.Data)
		s.burstPoint = next
	}

	for s.queueHead != nil && s.queueBytes > cfg.QueueSizeLimit {
		next := s.queueHead.Next()
		if next == nil {
			break
		}
		s.queueBytes -= len(s.queueHead.Data)
		s.queueHead.Unref()
		s.queueHead = next
	}
}

// BurstPoint returns the current burst-point node, the attach point for a
// newly merged listener.
func (s *Source) BurstPoint() *refbuf.RefBuf {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.burstPoint
}

// QueueTail returns the current queue tail.
func (s *Source) QueueTail() *refbuf.RefBuf {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queueTail
}

// QueueBytes returns the current total queued byte count.
func (s *Source) QueueBytes() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queueBytes
}

// LagBytes returns how far behind the tail a listener's cursor is, used
// by the slow-consumer policy.
func (s *Source) LagBytes(l *Listener) int {
	cursorNode, _ := l.Cursor()
	if cursorNode == nil {
		return s.QueueBytes()
	}
	lag := 0
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for n := cursorNode; n != nil && n != s.queueTail; n = n.Next() {
		lag += len(n.Data)
	}
	return lag
}

// IsSlowConsumer reports whether l's lag exceeds queue_size_limit — such
// a listener is dropped rather than allowed to block the source.
func (s *Source) IsSlowConsumer(l *Listener) bool {
	return s.LagBytes(l) > s.Config().QueueSizeLimit
}

// SetPriority sets the source's preemption priority (default
// PriorityAutomation).
func (s *Source) SetPriority(p Priority) { s.priority.Store(int64(p)) }

// Priority returns the source's preemption priority.
func (s *Source) Priority() Priority { return Priority(s.priority.Load()) }

// MarkPreempted flags that a higher-priority source took this source's
// mount away before it exited on its own; the broadcast thread observes
// this on its next tick and exits without performing a fallback handoff
// of its own (the preempting source owns the mount's listeners now).
func (s *Source) MarkPreempted() { s.preempted.Store(true) }

// Preempted reports whether this source was preempted.
func (s *Source) Preempted() bool { return s.preempted.Load() }
