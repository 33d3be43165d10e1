// Package automaton implements the pure target state machine: Step
// takes a target snapshot and an observation bundle and returns the
// next target value plus the actions the driver must perform. Step
// itself never blocks, never touches the store, and never calls the
// executor — those are the step driver's job (§4.4, §9).
package automaton

import (
	"time"

	"github.com/openfroyo/targetd/pkg/executor"
	"github.com/openfroyo/targetd/pkg/target"
)

// ActionKind enumerates the side effects Step can ask the driver to
// perform.
type ActionKind string

const (
	ActionCheckCondition ActionKind = "check_condition"
	ActionStart          ActionKind = "start"
	ActionProbe          ActionKind = "probe"
	ActionKill           ActionKind = "kill"
	ActionActivate       ActionKind = "activate"
)

// Action is one side effect requested by a Step call. TargetID names
// the target the action concerns: for Activate it is the id to
// activate (a dependency, cascaded, or an if_fails_activate fallback);
// for the others it is always the stepped target's own id.
type Action struct {
	Kind         ActionKind
	TargetID     string
	Host         string
	Condition    *target.Condition
	BuildProcess target.BuildProcess
	Handle       string
	Cause        string
}

// Policy carries the configuration knobs the automaton's failure
// classification depends on (§4.4, §5).
type Policy struct {
	MaximumSuccessiveAttempts           int
	TurnUnixSSHFailureIntoTargetFailure bool
}

// Observations bundles everything external Step needs to make
// progress on one target: dependency outcomes and the result of
// whatever external call the target's previous state requested.
type Observations struct {
	Now time.Time

	// DependencyStates maps each dependency id to its current state
	// kind, as last committed to the store.
	DependencyStates map[string]target.StateKind

	ConditionHeld *bool
	ConditionErr  error

	StartHandle string
	StartErr    error

	Probe    *executor.ProbeResult
	ProbeErr error

	KillErr       error
	KillRequested bool

	ActivateRequested bool
	ActivationCause   string
}

func clone(t *target.Target) *target.Target {
	cp := *t
	cp.State = append([]target.StateEntry(nil), t.State...)
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.IfFailsActivate = append([]string(nil), t.IfFailsActivate...)
	return &cp
}

// Step computes the next state of t given obs, returning the new
// target value (t is never mutated) and the actions the driver should
// carry out on its behalf.
func Step(t *target.Target, obs Observations, pol Policy) (*target.Target, []Action) {
	nt := clone(t)
	cur := nt.Current()

	if cur.Kind.IsTerminal() {
		return nt, nil
	}

	if obs.KillRequested && cur.Kind.IsKillable() {
		return stepKillRequested(nt, cur, obs)
	}

	switch cur.Kind {
	case target.Passive:
		return stepPassive(nt, obs)
	case target.Activable:
		return stepActivable(nt, obs)
	case target.Active:
		return stepActive(nt, obs)
	case target.TriedToEvaluateCondition:
		return stepTriedToEvaluateCondition(nt, cur, obs, pol)
	case target.Building:
		return stepBuilding(nt)
	case target.TriedToStart:
		return stepTriedToStart(nt, cur, obs, pol)
	case target.StartedRunning:
		return stepStartedRunning(nt, cur)
	case target.TriedToCheckProcess:
		return stepTriedToCheckProcess(nt, cur, obs, pol)
	case target.RanSuccessfully:
		return stepRanSuccessfully(nt, cur, obs, pol)
	case target.TriedToKill:
		return stepTriedToKill(nt, cur, obs)
	case target.Killing:
		return finishKill(nt, cur)
	default:
		return nt, nil
	}
}

func stepPassive(nt *target.Target, obs Observations) (*target.Target, []Action) {
	if !obs.ActivateRequested {
		return nt, nil
	}
	cause := obs.ActivationCause
	if cause == "" {
		cause = "activated"
	}
	nt.Append(target.StateEntry{Kind: target.Activable, Cause: cause})
	return nt, nil
}

func stepActivable(nt *target.Target, obs Observations) (*target.Target, []Action) {
	var actions []Action
	anyDead := false
	allSuccessful := true

	for _, dep := range nt.Dependencies {
		st, known := obs.DependencyStates[dep]
		if !known {
			allSuccessful = false
			continue
		}
		switch st {
		case target.Dead:
			anyDead = true
		case target.Successful:
			// satisfied
		default:
			allSuccessful = false
			if st == target.Passive {
				actions = append(actions, Action{Kind: ActionActivate, TargetID: dep, Cause: "dependency of active node"})
			}
		}
	}

	if anyDead {
		nt.Append(target.StateEntry{Kind: target.FailedFromDependencies, Cause: "dependency died"})
		return die(nt, "dependency died")
	}
	if allSuccessful {
		nt.Append(target.StateEntry{Kind: target.Active, Cause: "dependencies resolved"})
		return nt, nil
	}
	return nt, actions
}

func stepActive(nt *target.Target, obs Observations) (*target.Target, []Action) {
	if nt.Condition != nil {
		nt.Append(target.StateEntry{Kind: target.TriedToEvaluateCondition, Cause: "pre-run probe"})
		return nt, []Action{{Kind: ActionCheckCondition, TargetID: nt.ID, Host: conditionHost(nt), Condition: nt.Condition}}
	}
	nt.Append(target.StateEntry{Kind: target.Building, Cause: "no pre-run condition"})
	return stepBuilding(nt)
}

func conditionHost(t *target.Target) string {
	if t.Condition != nil && t.Condition.Host != "" {
		return t.Condition.Host
	}
	return t.BuildProcess.Host
}

func stepTriedToEvaluateCondition(nt *target.Target, cur target.StateEntry, obs Observations, pol Policy) (*target.Target, []Action) {
	if obs.ConditionErr != nil {
		return classifiedRetry(nt, cur, target.Active, pol, obs.ConditionErr.Error())
	}
	if obs.ConditionHeld == nil {
		return nt, []Action{{Kind: ActionCheckCondition, TargetID: nt.ID, Host: conditionHost(nt), Condition: nt.Condition}}
	}
	if *obs.ConditionHeld {
		nt.Append(target.StateEntry{Kind: target.AlreadyDone, Cause: "condition satisfied"})
		return succeed(nt)
	}
	nt.Append(target.StateEntry{Kind: target.Building, Cause: "condition not yet satisfied"})
	return stepBuilding(nt)
}

func stepBuilding(nt *target.Target) (*target.Target, []Action) {
	nt.Append(target.StateEntry{Kind: target.TriedToStart, Cause: "dependencies ensured"})
	return nt, []Action{{Kind: ActionStart, TargetID: nt.ID, BuildProcess: nt.BuildProcess}}
}

func stepTriedToStart(nt *target.Target, cur target.StateEntry, obs Observations, pol Policy) (*target.Target, []Action) {
	if obs.StartErr != nil {
		return classifiedRetry(nt, cur, target.Active, pol, obs.StartErr.Error())
	}
	if obs.StartHandle == "" {
		return nt, []Action{{Kind: ActionStart, TargetID: nt.ID, BuildProcess: nt.BuildProcess}}
	}
	nt.Append(target.StateEntry{Kind: target.StartedRunning, Cause: "started", Handle: obs.StartHandle})
	return nt, nil
}

func stepStartedRunning(nt *target.Target, cur target.StateEntry) (*target.Target, []Action) {
	nt.Append(target.StateEntry{Kind: target.TriedToCheckProcess, Cause: "probe", Handle: cur.Handle})
	return nt, []Action{{Kind: ActionProbe, TargetID: nt.ID, Handle: cur.Handle}}
}

func stepTriedToCheckProcess(nt *target.Target, cur target.StateEntry, obs Observations, pol Policy) (*target.Target, []Action) {
	if obs.ProbeErr != nil {
		return classifiedRetryWithHandle(nt, cur, target.StartedRunning, pol, obs.ProbeErr.Error(), cur.Handle)
	}
	if obs.Probe == nil {
		return nt, []Action{{Kind: ActionProbe, TargetID: nt.ID, Handle: cur.Handle}}
	}
	switch obs.Probe.Status {
	case executor.StillRunning:
		nt.Append(target.StateEntry{Kind: target.StartedRunning, Cause: "still running", Handle: cur.Handle})
		return nt, nil
	case executor.FinishedSuccessfully:
		nt.Append(target.StateEntry{Kind: target.RanSuccessfully, Cause: "process succeeded", Handle: cur.Handle})
		return stepRanSuccessfully(nt, nt.Current(), Observations{}, pol)
	default: // FinishedWithFailure
		return failRunning(nt, cur, pol, obs.Probe.Reason)
	}
}

func stepRanSuccessfully(nt *target.Target, cur target.StateEntry, obs Observations, pol Policy) (*target.Target, []Action) {
	if nt.Condition == nil {
		nt.Append(target.StateEntry{Kind: target.VerifiedSuccess, Cause: "no post-run condition"})
		return succeed(nt)
	}
	if obs.ConditionErr != nil {
		return classifiedRetryWithHandle(nt, cur, target.RanSuccessfully, pol, obs.ConditionErr.Error(), cur.Handle)
	}
	if obs.ConditionHeld == nil {
		return nt, []Action{{Kind: ActionCheckCondition, TargetID: nt.ID, Host: conditionHost(nt), Condition: nt.Condition}}
	}
	if *obs.ConditionHeld {
		nt.Append(target.StateEntry{Kind: target.VerifiedSuccess, Cause: "condition verified"})
		return succeed(nt)
	}
	nt.Append(target.StateEntry{Kind: target.FailedToVerifySuccess, Cause: "condition still false"})
	return retryOrDie(nt, pol, "condition still false after run")
}

func failRunning(nt *target.Target, cur target.StateEntry, pol Policy, reason string) (*target.Target, []Action) {
	nt.Append(target.StateEntry{Kind: target.FailedRunning, Cause: reason, LastError: reason})
	return retryOrDie(nt, pol, reason)
}

// classifiedRetry applies the non-fatal/fatal split from §4.4: a
// classified Unix/start/probe/kill error returns to priorState without
// incrementing attempts unless TurnUnixSSHFailureIntoTargetFailure is
// set, in which case it counts like any other failure.
func classifiedRetry(nt *target.Target, cur target.StateEntry, priorState target.StateKind, pol Policy, reason string) (*target.Target, []Action) {
	return classifiedRetryWithHandle(nt, cur, priorState, pol, reason, "")
}

func classifiedRetryWithHandle(nt *target.Target, cur target.StateEntry, priorState target.StateKind, pol Policy, reason, handle string) (*target.Target, []Action) {
	if !pol.TurnUnixSSHFailureIntoTargetFailure {
		nt.Append(target.StateEntry{Kind: priorState, Cause: "environmental hiccup: " + reason, Attempts: nt.Attempts, Handle: handle})
		return nt, nil
	}
	return retryOrDie(nt, pol, reason)
}

// retryOrDie increments the target's running attempts counter and
// appends either a fresh Active entry (counter still below the
// configured maximum) or a terminal Dead entry.
func retryOrDie(nt *target.Target, pol Policy, reason string) (*target.Target, []Action) {
	nt.Attempts++
	max := pol.MaximumSuccessiveAttempts
	if max <= 0 {
		max = 1
	}
	if nt.Attempts >= max {
		return die(nt, reason)
	}
	nt.Append(target.StateEntry{Kind: target.Active, Cause: "retrying", Attempts: nt.Attempts})
	return nt, nil
}

func succeed(nt *target.Target) (*target.Target, []Action) {
	nt.Attempts = 0
	nt.Append(target.StateEntry{Kind: target.Successful, Cause: "succeeded"})
	return nt, nil
}

func die(nt *target.Target, reason string) (*target.Target, []Action) {
	nt.Append(target.StateEntry{Kind: target.Dead, Cause: reason, LastError: reason})
	if nt.FallbacksFired {
		return nt, nil
	}
	nt.FallbacksFired = true
	actions := make([]Action, 0, len(nt.IfFailsActivate))
	for _, id := range nt.IfFailsActivate {
		actions = append(actions, Action{Kind: ActionActivate, TargetID: id, Cause: "fallback of dead target " + nt.ID})
	}
	return nt, actions
}

func stepKillRequested(nt *target.Target, cur target.StateEntry, obs Observations) (*target.Target, []Action) {
	if cur.Kind == target.Passive || cur.Kind == target.Activable || cur.Kind == target.Active ||
		cur.Kind == target.TriedToEvaluateCondition || cur.Kind == target.Building || cur.Kind == target.TriedToStart {
		nt.Append(target.StateEntry{Kind: target.Killed, Cause: "killed before start"})
		return die(nt, "killed before start")
	}
	nt.Append(target.StateEntry{Kind: target.TriedToKill, Cause: "kill requested", Handle: cur.Handle})
	return nt, []Action{{Kind: ActionKill, TargetID: nt.ID, Handle: cur.Handle}}
}

func stepTriedToKill(nt *target.Target, cur target.StateEntry, obs Observations) (*target.Target, []Action) {
	if obs.KillErr != nil {
		return nt, []Action{{Kind: ActionKill, TargetID: nt.ID, Handle: cur.Handle}}
	}
	nt.Append(target.StateEntry{Kind: target.Killing, Cause: "kill dispatched", Handle: cur.Handle})
	return finishKill(nt, nt.Current())
}

func finishKill(nt *target.Target, cur target.StateEntry) (*target.Target, []Action) {
	nt.Append(target.StateEntry{Kind: target.Killed, Cause: "killed"})
	return die(nt, "killed")
}
