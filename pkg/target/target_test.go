package target

import "testing"

func TestNewPassiveStartsInPassiveState(t *testing.T) {
	tg := NewPassive("a", BuildProcess{Kind: BuildDirectCommand, Host: "localhost", Program: "true"})
	if tg.Current().Kind != Passive {
		t.Fatalf("expected Passive, got %v", tg.Current().Kind)
	}
	if len(tg.State) != 1 {
		t.Fatalf("expected a single history entry, got %d", len(tg.State))
	}
}

func TestAppendKeepsHistoryMonotonic(t *testing.T) {
	tg := NewPassive("a", BuildProcess{Kind: BuildNoOperation})
	tg.Append(StateEntry{Kind: Activable})
	tg.Append(StateEntry{Kind: Active})

	if len(tg.State) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(tg.State))
	}
	for i := 1; i < len(tg.State); i++ {
		if !tg.State[i].Timestamp.After(tg.State[i-1].Timestamp) {
			t.Fatalf("state history is not strictly time-ordered at index %d", i)
		}
	}
}

func TestStateKindTerminalClassification(t *testing.T) {
	for _, k := range []StateKind{Successful, Dead} {
		if !k.IsTerminal() {
			t.Fatalf("expected %v to be terminal", k)
		}
	}
	for _, k := range []StateKind{Passive, Activable, Active, StartedRunning} {
		if k.IsTerminal() {
			t.Fatalf("expected %v to not be terminal", k)
		}
	}
}

func TestEquivalenceKeyEmptyUnlessSameMakeAndCondition(t *testing.T) {
	tg := NewPassive("a", BuildProcess{Kind: BuildDirectCommand, Host: "h", Program: "true"})
	if tg.EquivalenceKey() != "" {
		t.Fatalf("expected empty key for EquivalenceNone, got %q", tg.EquivalenceKey())
	}

	tg.Equivalence = EquivalenceSameMakeCondition
	key := tg.EquivalenceKey()
	if key == "" {
		t.Fatal("expected non-empty key for Same_make_and_condition")
	}

	other := NewPassive("b", BuildProcess{Kind: BuildDirectCommand, Host: "h", Program: "true"})
	other.Equivalence = EquivalenceSameMakeCondition
	if other.EquivalenceKey() != key {
		t.Fatal("expected identical build processes to hash identically")
	}

	other.BuildProcess.Program = "false"
	if other.EquivalenceKey() == key {
		t.Fatal("expected differing build processes to hash differently")
	}
}

func TestEquivalentToRequiresSamePolicyAndStructure(t *testing.T) {
	a := NewPassive("a", BuildProcess{Kind: BuildDirectCommand, Host: "h", Program: "true"})
	b := NewPassive("b", BuildProcess{Kind: BuildDirectCommand, Host: "h", Program: "true"})

	if a.EquivalentTo(b) {
		t.Fatal("EquivalenceNone targets must never be equivalent")
	}

	a.Equivalence = EquivalenceSameMakeCondition
	b.Equivalence = EquivalenceSameMakeCondition
	if !a.EquivalentTo(b) {
		t.Fatal("expected identical build process and nil condition to be equivalent")
	}

	b.Condition = &Condition{Kind: ConditionFileExists, Path: "/tmp/x"}
	if a.EquivalentTo(b) {
		t.Fatal("expected differing conditions to break equivalence")
	}
}
