package automaton

import (
	"errors"
	"testing"

	"github.com/openfroyo/targetd/pkg/executor"
	"github.com/openfroyo/targetd/pkg/target"
)

func newShTrue(id string) *target.Target {
	return target.NewPassive(id, target.BuildProcess{Kind: target.BuildDirectCommand, Host: "localhost", Program: "true"})
}

func defaultPolicy() Policy {
	return Policy{MaximumSuccessiveAttempts: 3, TurnUnixSSHFailureIntoTargetFailure: false}
}

func TestPassiveActivatesOnlyWhenRequested(t *testing.T) {
	tg := newShTrue("a")
	nt, actions := Step(tg, Observations{}, defaultPolicy())
	if nt.Current().Kind != target.Passive {
		t.Fatalf("expected target to remain passive, got %v", nt.Current().Kind)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions, got %v", actions)
	}

	nt, _ = Step(tg, Observations{ActivateRequested: true, ActivationCause: "activated"}, defaultPolicy())
	if nt.Current().Kind != target.Activable {
		t.Fatalf("expected Activable after activation, got %v", nt.Current().Kind)
	}
}

func TestLinearDAGReachesSuccessfulAfterDependency(t *testing.T) {
	a := newShTrue("a")
	a.Append(target.StateEntry{Kind: target.Activable})

	b := newShTrue("b")
	b.Dependencies = []string{"a"}
	b.Append(target.StateEntry{Kind: target.Activable})

	// b cannot become Active while a is still running.
	nt, actions := Step(b, Observations{DependencyStates: map[string]target.StateKind{"a": target.Active}}, defaultPolicy())
	if nt.Current().Kind != target.Activable {
		t.Fatalf("b should remain Activable while a is unresolved, got %v", nt.Current().Kind)
	}
	if len(actions) != 0 {
		t.Fatalf("a is already non-passive, expected no cascade action, got %v", actions)
	}

	// Once a is Successful, b should move to Active.
	nt, _ = Step(b, Observations{DependencyStates: map[string]target.StateKind{"a": target.Successful}}, defaultPolicy())
	if nt.Current().Kind != target.Active {
		t.Fatalf("expected b Active once a Successful, got %v", nt.Current().Kind)
	}
}

func TestFailureCascadeActivatesFallbackExactlyOnce(t *testing.T) {
	b := newShTrue("b")
	b.Dependencies = []string{"a"}
	b.IfFailsActivate = []string{"c"}
	b.Append(target.StateEntry{Kind: target.Activable})

	nt, actions := Step(b, Observations{DependencyStates: map[string]target.StateKind{"a": target.Dead}}, defaultPolicy())
	if nt.Current().Kind != target.Dead {
		t.Fatalf("expected b Dead after dependency died, got %v", nt.Current().Kind)
	}
	if len(actions) != 1 || actions[0].Kind != ActionActivate || actions[0].TargetID != "c" {
		t.Fatalf("expected single activate-c action, got %v", actions)
	}
	if !nt.FallbacksFired {
		t.Fatal("expected FallbacksFired to be set")
	}

	// Stepping again (terminal) must not refire the fallback.
	nt2, actions2 := Step(nt, Observations{}, defaultPolicy())
	if len(actions2) != 0 {
		t.Fatalf("terminal re-step must not re-fire fallbacks, got %v", actions2)
	}
	if nt2.Current().Kind != target.Dead {
		t.Fatal("terminal target must not transition again")
	}
}

func TestRetryThenSuccessDoesNotIncrementAttemptsWhenNonFatal(t *testing.T) {
	tg := newShTrue("a")
	tg.Append(target.StateEntry{Kind: target.Active})
	tg.Append(target.StateEntry{Kind: target.Building})
	tg.Append(target.StateEntry{Kind: target.TriedToStart})
	tg.Append(target.StateEntry{Kind: target.StartedRunning, Handle: "ssh:1"})
	tg.Append(target.StateEntry{Kind: target.TriedToCheckProcess, Handle: "ssh:1"})

	pol := defaultPolicy()

	nt, _ := Step(tg, Observations{ProbeErr: errors.New("connection reset")}, pol)
	if nt.Current().Kind != target.StartedRunning {
		t.Fatalf("non-fatal probe error should return to StartedRunning, got %v", nt.Current().Kind)
	}
	if nt.Current().Attempts != 0 {
		t.Fatalf("non-fatal classification must not increment attempts, got %d", nt.Current().Attempts)
	}

	nt.Append(target.StateEntry{Kind: target.TriedToCheckProcess, Handle: "ssh:1"})
	nt, _ = Step(nt, Observations{Probe: &executor.ProbeResult{Status: executor.FinishedSuccessfully}}, pol)
	if nt.Current().Kind != target.Successful {
		t.Fatalf("expected eventual Successful, got %v", nt.Current().Kind)
	}
}

func TestAttemptExhaustionGoesDeadAfterMaxFailures(t *testing.T) {
	pol := Policy{MaximumSuccessiveAttempts: 3}
	tg := newShTrue("a")
	tg.Append(target.StateEntry{Kind: target.Active})
	tg.Append(target.StateEntry{Kind: target.Building})
	tg.Append(target.StateEntry{Kind: target.TriedToStart})
	tg.Append(target.StateEntry{Kind: target.StartedRunning, Handle: "h"})

	for i := 0; i < 10 && tg.Current().Kind != target.Dead; i++ {
		tg.Append(target.StateEntry{Kind: target.TriedToCheckProcess, Handle: "h"})
		nt, _ := Step(tg, Observations{Probe: &executor.ProbeResult{Status: executor.FinishedWithFailure, Reason: "boom"}}, pol)
		tg = nt
		if tg.Current().Kind == target.Active {
			tg.Append(target.StateEntry{Kind: target.Building})
			tg.Append(target.StateEntry{Kind: target.TriedToStart})
			tg.Append(target.StateEntry{Kind: target.StartedRunning, Handle: "h"})
		}
	}

	if tg.Current().Kind != target.Dead {
		t.Fatalf("expected target to die after exhausting attempts, got %v", tg.Current().Kind)
	}
	failedCount := 0
	for _, e := range tg.State {
		if e.Kind == target.FailedRunning {
			failedCount++
		}
	}
	if failedCount != 3 {
		t.Fatalf("expected exactly 3 FailedRunning entries, got %d", failedCount)
	}
}

func TestKillInFlightReachesDeadAndFiresFallbackOnce(t *testing.T) {
	tg := newShTrue("a")
	tg.IfFailsActivate = []string{"c"}
	tg.Append(target.StateEntry{Kind: target.Active})
	tg.Append(target.StateEntry{Kind: target.Building})
	tg.Append(target.StateEntry{Kind: target.TriedToStart})
	tg.Append(target.StateEntry{Kind: target.StartedRunning, Handle: "h"})

	pol := defaultPolicy()
	nt, actions := Step(tg, Observations{KillRequested: true}, pol)
	if nt.Current().Kind != target.TriedToKill {
		t.Fatalf("expected TriedToKill, got %v", nt.Current().Kind)
	}
	if len(actions) != 1 || actions[0].Kind != ActionKill {
		t.Fatalf("expected a single kill action, got %v", actions)
	}

	nt, actions = Step(nt, Observations{}, pol)
	if nt.Current().Kind != target.Dead {
		t.Fatalf("expected Dead after kill completes, got %v", nt.Current().Kind)
	}
	if len(actions) != 1 || actions[0].TargetID != "c" {
		t.Fatalf("expected fallback activation of c, got %v", actions)
	}
}

func TestTerminalTargetNeverTransitionsAgain(t *testing.T) {
	tg := newShTrue("a")
	tg.Append(target.StateEntry{Kind: target.Successful})
	nt, actions := Step(tg, Observations{KillRequested: true, DependencyStates: map[string]target.StateKind{}}, defaultPolicy())
	if len(nt.State) != len(tg.State) {
		t.Fatalf("expected no new state entries on a terminal target, got %d vs %d", len(nt.State), len(tg.State))
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions on a terminal target, got %v", actions)
	}
}
