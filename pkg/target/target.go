// Package target defines the node data structure driven by the
// automaton: its condition/equivalence/build-process descriptors and
// its append-only state history (§3).
package target

import "time"

// Target is a node in the workflow DAG: a unit of work with
// dependencies, an optional readiness condition, and a build process
// (§3). Its id, once assigned, is never reused and never changes; its
// State history is append-only and monotonically timestamped.
type Target struct {
	ID string `json:"id"`

	Name     string            `json:"name,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Dependencies is the ordered sequence of target ids this node
	// requires to succeed before it runs.
	Dependencies []string `json:"dependencies,omitempty"`

	// IfFailsActivate lists fallback target ids activated exactly once,
	// at the instant this target dies.
	IfFailsActivate []string `json:"if_fails_activate,omitempty"`

	Equivalence  Equivalence  `json:"equivalence"`
	Condition    *Condition   `json:"condition,omitempty"`
	BuildProcess BuildProcess `json:"build_process"`

	// Active is a submission-time request to enqueue this target for
	// activation as soon as it is persisted (§4.3 step 3). It has no
	// bearing once the target has a lifecycle beyond its initial entry:
	// a target left Passive here still activates via the normal
	// dependency-of-active-node or death-fallback cascades.
	Active bool `json:"active,omitempty"`

	// State is the full lifecycle history; State[len(State)-1] is the
	// current state. Never truncated, never reordered.
	State []StateEntry `json:"state"`

	// Product optionally describes the produced artifact; opaque to the
	// automaton (§3).
	Product *Product `json:"product,omitempty"`

	// Attempts is the running count of non-fatal failure cycles since
	// the last success or the target's creation, reset to 0 on success
	// (§4.4, GLOSSARY).
	Attempts int `json:"attempts"`

	// FallbacksFired records whether if_fails_activate has already been
	// dispatched for this target, so death is never fired twice (§3
	// invariants).
	FallbacksFired bool `json:"fallbacks_fired"`

	// Version is the store's optimistic-concurrency counter (§4.1,
	// §7); it is opaque to the automaton.
	Version int64 `json:"version"`
}

// NewPassive constructs a freshly submitted target in the Passive
// state, not yet activated (§3 lifecycle).
func NewPassive(id string, bp BuildProcess) *Target {
	return &Target{
		ID:           id,
		Equivalence:  EquivalenceNone,
		BuildProcess: bp,
		State: []StateEntry{
			{Kind: Passive, Timestamp: time.Now().UTC(), Cause: "created"},
		},
	}
}

// Current returns the target's most recent state entry. A target with
// an empty history (which NewPassive never produces, but a zero-value
// Target might) is treated as Passive.
func (t *Target) Current() StateEntry {
	if len(t.State) == 0 {
		return StateEntry{Kind: Passive}
	}
	return t.State[len(t.State)-1]
}

// Append adds e to the state history, stamping it with the current
// time when the caller left Timestamp zero and forcing it strictly
// after the previous entry so the history stays monotonically ordered
// even under clock skew (§3 invariants, §8).
func (t *Target) Append(e StateEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if len(t.State) > 0 {
		prev := t.State[len(t.State)-1].Timestamp
		if !e.Timestamp.After(prev) {
			e.Timestamp = prev.Add(time.Nanosecond)
		}
	}
	t.State = append(t.State, e)
}
