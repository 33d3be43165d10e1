package protocol

import (
	"fmt"
	"regexp"
	"time"

	"github.com/openfroyo/targetd/pkg/target"
)

// TimeConstraintKind is the closed sum of ways a target_query can bound
// the set of targets considered before the filter runs (§6).
type TimeConstraintKind string

const (
	TimeConstraintAll                TimeConstraintKind = "all"
	TimeConstraintNotFinishedBefore  TimeConstraintKind = "not_finished_before"
	TimeConstraintCreatedAfter       TimeConstraintKind = "created_after"
	TimeConstraintStatusChangedSince TimeConstraintKind = "status_changed_since"
)

func (k TimeConstraintKind) Validate() error {
	switch k {
	case TimeConstraintAll, TimeConstraintNotFinishedBefore, TimeConstraintCreatedAfter, TimeConstraintStatusChangedSince:
		return nil
	default:
		return fmt.Errorf("invalid time constraint kind: %s", k)
	}
}

// TimeConstraint bounds a target_query by when a target was created,
// last changed status, or (for Not_finished_before) reached a terminal
// state (§6).
type TimeConstraint struct {
	Kind TimeConstraintKind `json:"kind"`
	At   time.Time          `json:"at,omitempty"`
}

// Matches reports whether t satisfies the time constraint.
func (c TimeConstraint) Matches(t *target.Target) bool {
	switch c.Kind {
	case TimeConstraintAll, "":
		return true
	case TimeConstraintNotFinishedBefore:
		cur := t.Current()
		if !cur.Kind.IsTerminal() {
			return true
		}
		return !cur.Timestamp.Before(c.At)
	case TimeConstraintCreatedAfter:
		if len(t.State) == 0 {
			return false
		}
		return t.State[0].Timestamp.After(c.At)
	case TimeConstraintStatusChangedSince:
		return !t.Current().Timestamp.Before(c.At)
	default:
		return false
	}
}

// PatternKind is the closed sum of string-matching predicates used by
// Has_tag/Name/Id filters (§6).
type PatternKind string

const (
	PatternEquals  PatternKind = "equals"
	PatternMatches PatternKind = "matches"
)

func (k PatternKind) Validate() error {
	switch k {
	case PatternEquals, PatternMatches:
		return nil
	default:
		return fmt.Errorf("invalid pattern kind: %s", k)
	}
}

// Pattern is a string-matching predicate: either an exact match or a
// regular expression (§6).
type Pattern struct {
	Kind  PatternKind `json:"kind"`
	Value string      `json:"value"`
}

// Matches reports whether s satisfies the pattern.
func (p Pattern) Matches(s string) bool {
	switch p.Kind {
	case PatternEquals:
		return s == p.Value
	case PatternMatches:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return false
	}
}

// SimpleStatus is the coarse status bucket used by Status{Simple s}
// (§6).
type SimpleStatus string

const (
	SimpleActivable SimpleStatus = "activable"
	SimpleInProgress SimpleStatus = "in_progress"
	SimpleSuccessful SimpleStatus = "successful"
	SimpleFailed     SimpleStatus = "failed"
)

func (s SimpleStatus) Validate() error {
	switch s {
	case SimpleActivable, SimpleInProgress, SimpleSuccessful, SimpleFailed:
		return nil
	default:
		return fmt.Errorf("invalid simple status: %s", s)
	}
}

// Matches reports whether kind falls into this coarse bucket.
func (s SimpleStatus) Matches(kind target.StateKind) bool {
	switch s {
	case SimpleActivable:
		return kind == target.Passive || kind == target.Activable
	case SimpleSuccessful:
		return kind == target.Successful
	case SimpleFailed:
		return kind == target.Dead
	case SimpleInProgress:
		return kind != target.Passive && kind != target.Activable && !kind.IsTerminal()
	default:
		return false
	}
}

// StatusPredicateKind is the closed sum of ways a Status filter leaf
// can classify a target's current state (§6).
type StatusPredicateKind string

const (
	StatusSimple                  StatusPredicateKind = "simple"
	StatusReallyRunning           StatusPredicateKind = "really_running"
	StatusKillable                StatusPredicateKind = "killable"
	StatusDeadBecauseOfDependencies StatusPredicateKind = "dead_because_of_dependencies"
	StatusActivatedByUser         StatusPredicateKind = "activated_by_user"
)

func (k StatusPredicateKind) Validate() error {
	switch k {
	case StatusSimple, StatusReallyRunning, StatusKillable, StatusDeadBecauseOfDependencies, StatusActivatedByUser:
		return nil
	default:
		return fmt.Errorf("invalid status predicate kind: %s", k)
	}
}

// StatusPredicate is the leaf of the Status(s) filter (§6, GLOSSARY).
type StatusPredicate struct {
	Kind   StatusPredicateKind `json:"kind"`
	Simple SimpleStatus        `json:"simple,omitempty"`
}

// Matches evaluates the predicate against t's current state.
func (p StatusPredicate) Matches(t *target.Target) bool {
	cur := t.Current()
	switch p.Kind {
	case StatusSimple:
		return p.Simple.Matches(cur.Kind)
	case StatusReallyRunning:
		switch cur.Kind {
		case target.Building, target.TriedToStart, target.StartedRunning, target.TriedToCheckProcess:
			return true
		default:
			return false
		}
	case StatusKillable:
		return cur.Kind.IsKillable()
	case StatusDeadBecauseOfDependencies:
		if cur.Kind != target.Dead || len(t.State) < 2 {
			return false
		}
		return t.State[len(t.State)-2].Kind == target.FailedFromDependencies
	case StatusActivatedByUser:
		if len(t.State) < 2 {
			return false
		}
		return t.State[1].Cause == "user"
	default:
		return false
	}
}

// FilterKind is the closed sum of the recursive filter algebra (§6).
type FilterKind string

const (
	FilterTrue   FilterKind = "true"
	FilterFalse  FilterKind = "false"
	FilterAnd    FilterKind = "and"
	FilterOr     FilterKind = "or"
	FilterNot    FilterKind = "not"
	FilterStatus FilterKind = "status"
	FilterHasTag FilterKind = "has_tag"
	FilterName   FilterKind = "name"
	FilterID     FilterKind = "id"
)

func (k FilterKind) Validate() error {
	switch k {
	case FilterTrue, FilterFalse, FilterAnd, FilterOr, FilterNot, FilterStatus, FilterHasTag, FilterName, FilterID:
		return nil
	default:
		return fmt.Errorf("invalid filter kind: %s", k)
	}
}

// Filter is one node of the recursive target-selection algebra of §6:
// And/Or hold a list of sub-filters, Not holds exactly one, Status
// holds a StatusPredicate, and Has_tag/Name/Id hold a Pattern.
type Filter struct {
	Kind    FilterKind      `json:"kind"`
	Filters []Filter        `json:"filters,omitempty"`
	Sub     *Filter         `json:"sub,omitempty"`
	Status  StatusPredicate `json:"status,omitempty"`
	Pattern Pattern         `json:"pattern,omitempty"`
}

// Validate checks the filter tree is well-formed for its kind.
func (f Filter) Validate() error {
	if err := f.Kind.Validate(); err != nil {
		return err
	}
	switch f.Kind {
	case FilterAnd, FilterOr:
		for i := range f.Filters {
			if err := f.Filters[i].Validate(); err != nil {
				return err
			}
		}
	case FilterNot:
		if f.Sub == nil {
			return fmt.Errorf("not filter requires a sub filter")
		}
		return f.Sub.Validate()
	case FilterStatus:
		return f.Status.Kind.Validate()
	case FilterHasTag, FilterName, FilterID:
		return f.Pattern.Kind.Validate()
	}
	return nil
}

// Matches evaluates the filter against t (§8: And[f,Not f] = false for
// every t, Or[f,Not f] = true for every t, by construction below).
func (f Filter) Matches(t *target.Target) bool {
	switch f.Kind {
	case FilterTrue:
		return true
	case FilterFalse:
		return false
	case FilterAnd:
		for _, sub := range f.Filters {
			if !sub.Matches(t) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, sub := range f.Filters {
			if sub.Matches(t) {
				return true
			}
		}
		return false
	case FilterNot:
		if f.Sub == nil {
			return false
		}
		return !f.Sub.Matches(t)
	case FilterStatus:
		return f.Status.Matches(t)
	case FilterHasTag:
		for _, tag := range t.Tags {
			if f.Pattern.Matches(tag) {
				return true
			}
		}
		return false
	case FilterName:
		return f.Pattern.Matches(t.Name)
	case FilterID:
		return f.Pattern.Matches(t.ID)
	default:
		return false
	}
}

// TargetQuery is the full selection expression of Get_target_ids (§6):
// a time bound applied first, then the recursive filter.
type TargetQuery struct {
	TimeConstraint TimeConstraint `json:"time_constraint"`
	Filter         Filter         `json:"filter"`
}

// Validate checks the query is well-formed.
func (q TargetQuery) Validate() error {
	if err := q.TimeConstraint.Kind.Validate(); err != nil && q.TimeConstraint.Kind != "" {
		return err
	}
	return q.Filter.Validate()
}

// Select applies the query to a full set of targets, returning the ids
// of those that match both the time constraint and the filter.
func (q TargetQuery) Select(all []*target.Target) []string {
	var ids []string
	for _, t := range all {
		if !q.TimeConstraint.Matches(t) {
			continue
		}
		if !q.Filter.Matches(t) {
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids
}
