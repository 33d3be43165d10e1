package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/target"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.db")
	s, err := Open(Config{Path: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTarget(id string) *target.Target {
	return target.NewPassive(id, target.BuildProcess{Kind: target.BuildDirectCommand, Host: "localhost", Program: "true"})
}

func TestPutAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tg := sampleTarget("a")
	tg.Name = "build-a"
	if err := s.Put(ctx, tg); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "build-a" || got.BuildProcess.Program != "true" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "missing")
	if !engineerr.Of(engineerr.NotFound, err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdateAppendsStateUnderLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tg := sampleTarget("a")
	if err := s.Put(ctx, tg); err != nil {
		t.Fatalf("put: %v", err)
	}

	updated, err := s.Update(ctx, "a", func(cur *target.Target) (*target.Target, error) {
		cp := *cur
		cp.Append(target.StateEntry{Kind: target.Activable, Cause: "activated"})
		return &cp, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Current().Kind != target.Activable {
		t.Fatalf("expected Activable after update, got %v", updated.Current().Kind)
	}

	reloaded, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if reloaded.Current().Kind != target.Activable {
		t.Fatalf("update was not persisted, got %v", reloaded.Current().Kind)
	}
}

func TestIterActiveExcludesPassiveAndTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	passive := sampleTarget("passive")
	if err := s.Put(ctx, passive); err != nil {
		t.Fatalf("put passive: %v", err)
	}

	active := sampleTarget("active")
	active.Append(target.StateEntry{Kind: target.Activable})
	if err := s.Put(ctx, active); err != nil {
		t.Fatalf("put active: %v", err)
	}

	terminal := sampleTarget("terminal")
	terminal.Append(target.StateEntry{Kind: target.Successful})
	if err := s.Put(ctx, terminal); err != nil {
		t.Fatalf("put terminal: %v", err)
	}

	actives, err := s.IterActive(ctx)
	if err != nil {
		t.Fatalf("iter active: %v", err)
	}
	if len(actives) != 1 || actives[0].ID != "active" {
		t.Fatalf("expected only 'active', got %v", actives)
	}

	alive, err := s.IterAlive(ctx)
	if err != nil {
		t.Fatalf("iter alive: %v", err)
	}
	if len(alive) != 2 {
		t.Fatalf("expected passive+active to be alive, got %v", alive)
	}
}

func TestFindEquivalentMatchesSameMakeAndCondition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := sampleTarget("first")
	first.Equivalence = target.EquivalenceSameMakeCondition
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("put first: %v", err)
	}

	candidate := sampleTarget("candidate")
	candidate.Equivalence = target.EquivalenceSameMakeCondition

	id, ok, err := s.FindEquivalent(ctx, candidate)
	if err != nil {
		t.Fatalf("find equivalent: %v", err)
	}
	if !ok || id != "first" {
		t.Fatalf("expected match on 'first', got id=%q ok=%v", id, ok)
	}
}
