package protocol

import (
	"testing"
	"time"

	"github.com/openfroyo/targetd/pkg/target"
)

func newTarget(id string, kind target.StateKind) *target.Target {
	t := target.NewPassive(id, target.BuildProcess{Kind: target.BuildNoOperation})
	t.State = []target.StateEntry{{Kind: kind, Timestamp: time.Now().UTC()}}
	return t
}

func TestFilterAndOrNotComplement(t *testing.T) {
	tg := newTarget("a", target.Successful)
	tg.Name = "web-01"

	f := Filter{Kind: FilterName, Pattern: Pattern{Kind: PatternEquals, Value: "web-01"}}
	notF := Filter{Kind: FilterNot, Sub: &f}

	and := Filter{Kind: FilterAnd, Filters: []Filter{f, notF}}
	if and.Matches(tg) {
		t.Fatalf("And[f, Not f] should never match")
	}

	or := Filter{Kind: FilterOr, Filters: []Filter{f, notF}}
	if !or.Matches(tg) {
		t.Fatalf("Or[f, Not f] should always match")
	}
}

func TestStatusSimpleBuckets(t *testing.T) {
	cases := []struct {
		kind   target.StateKind
		status SimpleStatus
	}{
		{target.Passive, SimpleActivable},
		{target.Activable, SimpleActivable},
		{target.Building, SimpleInProgress},
		{target.Successful, SimpleSuccessful},
		{target.Dead, SimpleFailed},
	}
	for _, c := range cases {
		tg := newTarget("x", c.kind)
		f := Filter{Kind: FilterStatus, Status: StatusPredicate{Kind: StatusSimple, Simple: c.status}}
		if !f.Matches(tg) {
			t.Errorf("expected %s to match simple status %s", c.kind, c.status)
		}
	}
}

func TestHasTagMatchesAnyTag(t *testing.T) {
	tg := newTarget("a", target.Passive)
	tg.Tags = []string{"env:prod", "role:web"}

	f := Filter{Kind: FilterHasTag, Pattern: Pattern{Kind: PatternMatches, Value: "^role:"}}
	if !f.Matches(tg) {
		t.Fatalf("expected has_tag regex match")
	}

	f2 := Filter{Kind: FilterHasTag, Pattern: Pattern{Kind: PatternEquals, Value: "role:db"}}
	if f2.Matches(tg) {
		t.Fatalf("expected no match for absent tag")
	}
}

func TestTimeConstraintCreatedAfter(t *testing.T) {
	tg := newTarget("a", target.Passive)
	past := tg.State[0].Timestamp.Add(-time.Hour)
	future := tg.State[0].Timestamp.Add(time.Hour)

	if !(TimeConstraint{Kind: TimeConstraintCreatedAfter, At: past}).Matches(tg) {
		t.Fatalf("expected created_after(past) to match")
	}
	if (TimeConstraint{Kind: TimeConstraintCreatedAfter, At: future}).Matches(tg) {
		t.Fatalf("expected created_after(future) not to match")
	}
}

func TestTargetQuerySelect(t *testing.T) {
	all := []*target.Target{
		newTarget("a", target.Successful),
		newTarget("b", target.Dead),
		newTarget("c", target.Building),
	}

	q := TargetQuery{
		TimeConstraint: TimeConstraint{Kind: TimeConstraintAll},
		Filter:         Filter{Kind: FilterStatus, Status: StatusPredicate{Kind: StatusSimple, Simple: SimpleSuccessful}},
	}
	ids := q.Select(all)
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected only 'a', got %v", ids)
	}
}

func TestFilterValidateRejectsUnknownKind(t *testing.T) {
	f := Filter{Kind: "bogus"}
	if err := f.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown filter kind")
	}
}
