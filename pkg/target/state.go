package target

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateKind is the closed sum of principal target lifecycle states
// (§4.4). It is a string enum, matching the reference engine's own
// convention for tagged states, so it serializes without a custom
// wire format.
type StateKind string

const (
	Passive                  StateKind = "passive"
	Activable                StateKind = "activable"
	Active                   StateKind = "active"
	TriedToEvaluateCondition StateKind = "tried_to_evaluate_condition"
	AlreadyDone              StateKind = "already_done"
	Building                 StateKind = "building"
	TriedToStart             StateKind = "tried_to_start"
	StartedRunning           StateKind = "started_running"
	TriedToCheckProcess      StateKind = "tried_to_check_process"
	RanSuccessfully          StateKind = "ran_successfully"
	VerifiedSuccess          StateKind = "verified_success"
	Successful               StateKind = "successful"
	FailedRunning            StateKind = "failed_running"
	FailedToVerifySuccess    StateKind = "failed_to_verify_success"
	FailedFromDependencies   StateKind = "failed_from_dependencies"
	TriedToKill              StateKind = "tried_to_kill"
	Killing                  StateKind = "killing"
	Killed                   StateKind = "killed"
	Dead                     StateKind = "dead"
)

// Validate reports whether k is one of the closed set of states above.
func (k StateKind) Validate() error {
	switch k {
	case Passive, Activable, Active, TriedToEvaluateCondition, AlreadyDone,
		Building, TriedToStart, StartedRunning, TriedToCheckProcess,
		RanSuccessfully, VerifiedSuccess, Successful, FailedRunning,
		FailedToVerifySuccess, FailedFromDependencies, TriedToKill,
		Killing, Killed, Dead:
		return nil
	default:
		return fmt.Errorf("invalid target state: %s", k)
	}
}

// IsTerminal reports whether k is one of the two states a target never
// transitions out of (§3 invariants, §4.4).
func (k StateKind) IsTerminal() bool {
	return k == Successful || k == Dead
}

// IsActive reports whether k represents a target that is alive and no
// longer merely known-but-passive; used by the store to classify rows
// into the "active" set (§4.1).
func (k StateKind) IsActive() bool {
	return k != Passive && !k.IsTerminal()
}

// IsKillable reports whether a fresh Kill_targets observation should
// be handled by the kill-request branch rather than falling through to
// the state's normal transition. States already mid-kill continue
// through their own switch case instead of re-entering the branch.
func (k StateKind) IsKillable() bool {
	if k.IsTerminal() {
		return false
	}
	return k != TriedToKill && k != Killing
}

// MarshalJSON implements custom JSON marshaling for type-safe enum
// serialization, matching the reference engine's status types.
func (k StateKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation:
// unknown state kinds are rejected rather than silently accepted.
func (k *StateKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = StateKind(str)
	return k.Validate()
}

// StateEntry is one append-only entry in a target's state history
// (§3, §4.4). Every transition produces a new entry timestamped and
// tagged with a cause; nothing is ever mutated in place.
type StateEntry struct {
	Kind      StateKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Cause     string    `json:"cause,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Handle    string    `json:"handle,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}
