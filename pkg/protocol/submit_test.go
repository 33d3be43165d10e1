package protocol

import (
	"context"
	"testing"

	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/store"
	"github.com/openfroyo/targetd/pkg/target"
)

type fakeStore struct {
	targets map[string]*target.Target
}

func newFakeStore() *fakeStore {
	return &fakeStore{targets: make(map[string]*target.Target)}
}

func (s *fakeStore) Get(ctx context.Context, id string) (*target.Target, error) {
	t, ok := s.targets[id]
	if !ok {
		return nil, engineerr.New(engineerr.NotFound, "no such target").WithTarget(id)
	}
	return t, nil
}

func (s *fakeStore) Put(ctx context.Context, t *target.Target) error {
	s.targets[t.ID] = t
	return nil
}

func (s *fakeStore) Update(ctx context.Context, id string, f store.UpdateFunc) (*target.Target, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	nt, err := f(cur)
	if err != nil {
		return nil, err
	}
	s.targets[id] = nt
	return nt, nil
}

func (s *fakeStore) IterActive(ctx context.Context) ([]*target.Target, error) {
	return s.IterAll(ctx)
}

func (s *fakeStore) IterAlive(ctx context.Context) ([]*target.Target, error) {
	return s.IterAll(ctx)
}

func (s *fakeStore) IterAll(ctx context.Context) ([]*target.Target, error) {
	var out []*target.Target
	for _, t := range s.targets {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) FindEquivalent(ctx context.Context, candidate *target.Target) (string, bool, error) {
	for _, t := range s.targets {
		if t.ID != candidate.ID && candidate.EquivalentTo(t) {
			return t.ID, true, nil
		}
	}
	return "", false, nil
}

func (s *fakeStore) PutDeferred(ctx context.Context, token string, ids []string) error {
	return nil
}

func (s *fakeStore) TakeDeferred(ctx context.Context, token string) ([]string, bool, error) {
	return nil, false, nil
}

func (s *fakeStore) Close() error { return nil }

func TestSubmitTargetsCollapsesEquivalent(t *testing.T) {
	st := newFakeStore()
	bp := target.BuildProcess{Kind: target.BuildDirectCommand, Host: "localhost", Program: "true"}

	existing := target.NewPassive("existing", bp)
	existing.Equivalence = target.EquivalenceSameMakeCondition
	st.targets["existing"] = existing

	submitted := target.NewPassive("new-1", bp)
	submitted.Equivalence = target.EquivalenceSameMakeCondition

	mapping, err := SubmitTargets(context.Background(), st, nil, nil, []*target.Target{submitted})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapping["new-1"] != "existing" {
		t.Fatalf("expected collapse onto 'existing', got %v", mapping)
	}
	if _, ok := st.targets["new-1"]; ok {
		t.Fatalf("collapsed target should not be persisted under its submitted id")
	}
}

func TestSubmitTargetsRewritesInBatchDependencies(t *testing.T) {
	st := newFakeStore()
	bp := target.BuildProcess{Kind: target.BuildDirectCommand, Host: "localhost", Program: "true"}

	existing := target.NewPassive("existing", bp)
	existing.Equivalence = target.EquivalenceSameMakeCondition
	st.targets["existing"] = existing

	a := target.NewPassive("a", bp)
	a.Equivalence = target.EquivalenceSameMakeCondition

	b := target.NewPassive("b", target.BuildProcess{Kind: target.BuildNoOperation})
	b.Dependencies = []string{"a"}

	mapping, err := SubmitTargets(context.Background(), st, nil, nil, []*target.Target{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapping["a"] != "existing" {
		t.Fatalf("expected 'a' to collapse onto 'existing'")
	}
	stored, ok := st.targets["b"]
	if !ok {
		t.Fatalf("expected 'b' to be persisted")
	}
	if len(stored.Dependencies) != 1 || stored.Dependencies[0] != "existing" {
		t.Fatalf("expected b's dependency to be rewritten to 'existing', got %v", stored.Dependencies)
	}
}

func TestSubmitTargetsRejectsCycle(t *testing.T) {
	st := newFakeStore()
	bp := target.BuildProcess{Kind: target.BuildNoOperation}

	a := target.NewPassive("a", bp)
	a.Dependencies = []string{"b"}
	b := target.NewPassive("b", bp)
	b.Dependencies = []string{"a"}

	_, err := SubmitTargets(context.Background(), st, nil, nil, []*target.Target{a, b})
	if err == nil {
		t.Fatalf("expected cycle to be rejected")
	}
	if !engineerr.Of(engineerr.ProtocolError, err) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if len(st.targets) != 0 {
		t.Fatalf("expected no mutation on cycle rejection, got %v", st.targets)
	}
}

func TestSubmitTargetsAdmissionPolicyDenial(t *testing.T) {
	st := newFakeStore()
	bp := target.BuildProcess{Kind: target.BuildNoOperation}
	tg := target.NewPassive("a", bp)

	deny := denyAllPolicy{reason: "not allowed here"}
	_, err := SubmitTargets(context.Background(), st, deny, nil, []*target.Target{tg})
	if err == nil {
		t.Fatalf("expected denial error")
	}
	if len(st.targets) != 0 {
		t.Fatalf("denied target must not be persisted, got %v", st.targets)
	}
}

type denyAllPolicy struct {
	reason string
}

func (d denyAllPolicy) Evaluate(ctx context.Context, t *target.Target) (bool, string, error) {
	return false, d.reason, nil
}

type recordingActivator struct {
	activated []string
}

func (a *recordingActivator) Activate(ctx context.Context, id, cause string) error {
	a.activated = append(a.activated, id)
	return nil
}

func TestSubmitTargetsOnlyActivatesTargetsRequestingIt(t *testing.T) {
	st := newFakeStore()
	bp := target.BuildProcess{Kind: target.BuildNoOperation}

	guarded := target.NewPassive("guarded", bp)
	guarded.Active = true
	guarded.IfFailsActivate = []string{"fallback"}

	fallback := target.NewPassive("fallback", bp)

	act := &recordingActivator{}
	if _, err := SubmitTargets(context.Background(), st, nil, act, []*target.Target{guarded, fallback}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(act.activated) != 1 || act.activated[0] != "guarded" {
		t.Fatalf("expected only 'guarded' to be activated on submission, got %v", act.activated)
	}
	stored, ok := st.targets["fallback"]
	if !ok {
		t.Fatalf("expected 'fallback' to be persisted")
	}
	if stored.Current().Kind != target.Passive {
		t.Fatalf("fallback target must stay Passive until the guarded target actually dies, got %v", stored.Current().Kind)
	}
}
