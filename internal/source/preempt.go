/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import "time"

// Priority ranks a source's claim to a mount. Higher values win; a source
// requesting attach at a mount already running a lower-priority source can
// preempt it immediately instead of waiting for mount-in-use to clear.
type Priority int

const (
	PriorityAutomation Priority = 0
	PriorityScheduled  Priority = 50
	PriorityLive       Priority = 100
	PriorityEmergency  Priority = 1000
)

// Transition classifies what happens when a candidate source attempts to
// attach to a mount another source already occupies. This generalizes
// spec.md's fallback_override (ALL/OWN/NONE), which only governs what
// happens to listeners *after* a source's normal shutdown, by also
// covering the moment of attach itself.
type Transition int

const (
	// TransitionNone: no source is currently running; attach proceeds
	// normally via Registry.Reserve/Complete.
	TransitionNone Transition = iota
	// TransitionPreempt: the incoming source outranks the running one and
	// takes the mount immediately; the outranked source is torn down.
	TransitionPreempt
	// TransitionRelease: the incoming source is the one currently holding
	// the mount relinquishing it voluntarily (e.g. graceful SOURCE
	// disconnect), clearing the way for whatever is queued behind it.
	TransitionRelease
	// TransitionSwitch: the candidate's priority is equal to or lower than
	// the incumbent's; the incumbent keeps the mount on a first-come basis
	// and the candidate gets plain mount-in-use.
	TransitionSwitch
	// TransitionEmergency: an emergency-priority source preempts
	// regardless of any fade/drain policy — immediate, no crossfade.
	TransitionEmergency
	// TransitionFallback: the running source exited and a fallback mount
	// is being evaluated for its listeners.
	TransitionFallback
)

// PreemptionRequest describes a candidate source attempting to attach
// where another source, incumbent, may already be running.
type PreemptionRequest struct {
	CandidatePriority Priority
	IncumbentPriority Priority
	IncumbentPresent  bool
	RequestedAt       time.Time
}

// Resolve decides the Transition for a preemption request. Equal priority
// never preempts — it falls through to ordinary mount-in-use handling
// (TransitionSwitch) so two automation sources racing for the same mount
// still get the spec's deterministic first-wins behavior rather than
// flapping.
func Resolve(req PreemptionRequest) Transition {
	if !req.IncumbentPresent {
		return TransitionNone
	}
	if req.CandidatePriority >= PriorityEmergency && req.CandidatePriority > req.IncumbentPriority {
		return TransitionEmergency
	}
	switch {
	case req.CandidatePriority > req.IncumbentPriority:
		return TransitionPreempt
	case req.CandidatePriority == req.IncumbentPriority:
		return TransitionSwitch
	default:
		return TransitionSwitch
	}
}

// CanPreempt reports whether req's candidate is entitled to take the
// mount away from a running incumbent without waiting for mount-in-use to
// clear on its own.
func CanPreempt(req PreemptionRequest) bool {
	t := Resolve(req)
	return t == TransitionPreempt || t == TransitionEmergency
}

// FadeDuration returns how long the outranked incumbent's listeners
// should be crossfaded into silence before the preempting source's
// broadcast queue takes over, or 0 for an instant cut. Emergency
// preemption always cuts instantly; normal preemption fades briefly so
// listeners don't hear a hard splice.
func FadeDuration(t Transition) time.Duration {
	switch t {
	case TransitionPreempt:
		return 750 * time.Millisecond
	case TransitionEmergency:
		return 0
	default:
		return 0
	}
}

// ReservePreempting attempts to reserve mount for a candidate of the given
// priority, preempting and releasing any lower-priority running source
// first. It returns the Transition that occurred alongside Registry's
// ordinary Reserve error (still report.ErrMountInUse for TransitionSwitch
// against an equal-or-higher incumbent).
func (r *Registry) ReservePreempting(mount string, candidatePriority Priority) (Transition, error) {
	r.mu.Lock()
	incumbent, present := r.sources[mount]
	var incumbentPriority Priority
	if present {
		incumbentPriority = incumbent.Priority()
	}
	req := PreemptionRequest{
		CandidatePriority: candidatePriority,
		IncumbentPriority: incumbentPriority,
		IncumbentPresent:  present,
		RequestedAt:       time.Now(),
	}
	transition := Resolve(req)

	switch transition {
	case TransitionNone:
		if _, reserved := r.reserved[mount]; reserved {
			r.mu.Unlock()
			return transition, mountInUseError(mount)
		}
		r.reserved[mount] = struct{}{}
		r.mu.Unlock()
		return transition, nil
	case TransitionPreempt, TransitionEmergency:
		delete(r.sources, mount)
		r.globalSourceCount--
		r.reserved[mount] = struct{}{}
		r.preemptedIncumbent[mount] = incumbent
		r.mu.Unlock()
		incumbent.SetRunning(false)
		incumbent.MarkPreempted()
		return transition, nil
	default:
		r.mu.Unlock()
		return transition, mountInUseError(mount)
	}
}
