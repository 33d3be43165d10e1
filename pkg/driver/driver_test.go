package driver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/targetd/pkg/executor"
	"github.com/openfroyo/targetd/pkg/store"
	"github.com/openfroyo/targetd/pkg/target"
)

// memStore is a minimal in-memory store.Store, enough to drive the
// batch loop without a SQLite file.
type memStore struct {
	mu       sync.Mutex
	targets  map[string]*target.Target
	deferred map[string][]string
}

func newMemStore() *memStore {
	return &memStore{targets: make(map[string]*target.Target), deferred: make(map[string][]string)}
}

func (s *memStore) Get(ctx context.Context, id string) (*target.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) Put(ctx context.Context, t *target.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.targets[t.ID] = &cp
	return nil
}

func (s *memStore) Update(ctx context.Context, id string, f store.UpdateFunc) (*target.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.targets[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	nt, err := f(cur)
	if err != nil {
		return nil, err
	}
	nt.Version = cur.Version + 1
	s.targets[id] = nt
	cp := *nt
	return &cp, nil
}

func (s *memStore) iter(pred func(target.StateKind) bool) ([]*target.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*target.Target
	for _, t := range s.targets {
		if pred(t.Current().Kind) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) IterActive(ctx context.Context) ([]*target.Target, error) {
	return s.iter(func(k target.StateKind) bool { return k.IsActive() })
}

func (s *memStore) IterAlive(ctx context.Context) ([]*target.Target, error) {
	return s.iter(func(k target.StateKind) bool { return !k.IsTerminal() })
}

func (s *memStore) IterAll(ctx context.Context) ([]*target.Target, error) {
	return s.iter(func(target.StateKind) bool { return true })
}

func (s *memStore) FindEquivalent(ctx context.Context, candidate *target.Target) (string, bool, error) {
	return "", false, nil
}

func (s *memStore) PutDeferred(ctx context.Context, token string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred[token] = ids
	return nil
}

func (s *memStore) TakeDeferred(ctx context.Context, token string) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.deferred[token]
	delete(s.deferred, token)
	return ids, ok, nil
}

func (s *memStore) Close() error { return nil }

func newTestDriver(s store.Store) *Driver {
	return New(s, executor.NewLocalExecutor(), Config{
		EngineStepBatchSize:      16,
		ConcurrentAutomatonSteps: 2,
		HostTimeoutUpperBound:    time.Second,
		OrphanKillingWait:        time.Hour,
	}, zerolog.Nop(), nil)
}

func runUntilTerminal(t *testing.T, ctx context.Context, d *Driver, s *memStore, id string, rounds int) *target.Target {
	t.Helper()
	var nt *target.Target
	for i := 0; i < rounds; i++ {
		if err := d.RunBatch(ctx); err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
		var err error
		nt, err = s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if nt.Current().Kind.IsTerminal() {
			return nt
		}
	}
	return nt
}

func TestRunBatchDrivesNoOperationTargetToSuccess(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	nt := target.NewPassive("t1", target.BuildProcess{Kind: target.BuildNoOperation})
	if err := s.Put(ctx, nt); err != nil {
		t.Fatal(err)
	}

	d := newTestDriver(s)
	if err := d.Activate(ctx, "t1", "test"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	final := runUntilTerminal(t, ctx, d, s, "t1", 10)
	if final.Current().Kind != target.Successful {
		t.Fatalf("expected Successful, got %s (history %+v)", final.Current().Kind, final.State)
	}
}

func TestRunBatchDoesNotDoubleDispatchWhileStepInFlight(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	nt := target.NewPassive("t1", target.BuildProcess{Kind: target.BuildNoOperation})
	if err := s.Put(ctx, nt); err != nil {
		t.Fatal(err)
	}
	d := newTestDriver(s)
	d.dispatched["t1"] = true

	if err := d.Activate(ctx, "t1", "test"); err != nil {
		t.Fatal(err)
	}
	if err := d.RunBatch(ctx); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Current().Kind != target.Activable {
		t.Fatalf("expected step to be skipped while dispatched, got %s", got.Current().Kind)
	}
}

func TestRequestKillTransitionsToDead(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	nt := target.NewPassive("t1", target.BuildProcess{Kind: target.BuildNoOperation})
	if err := s.Put(ctx, nt); err != nil {
		t.Fatal(err)
	}
	d := newTestDriver(s)
	if err := d.Activate(ctx, "t1", "test"); err != nil {
		t.Fatal(err)
	}
	d.RequestKill("t1")

	final := runUntilTerminal(t, ctx, d, s, "t1", 5)
	if final.Current().Kind != target.Dead {
		t.Fatalf("expected Dead, got %s", final.Current().Kind)
	}
}

func TestSweepOrphansRequestsKillForDependencyOfTerminalDependent(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()

	// dep is still alive (Active) but its only dependent has already
	// finished, so nothing downstream can use its continued progress.
	dep := target.NewPassive("dep", target.BuildProcess{Kind: target.BuildNoOperation})
	dep.State = []target.StateEntry{{Kind: target.Active, Timestamp: time.Now().UTC()}}
	if err := s.Put(ctx, dep); err != nil {
		t.Fatal(err)
	}

	parent := target.NewPassive("parent", target.BuildProcess{Kind: target.BuildNoOperation})
	parent.Dependencies = []string{"dep"}
	parent.State = []target.StateEntry{{Kind: target.Successful, Timestamp: time.Now().UTC()}}
	if err := s.Put(ctx, parent); err != nil {
		t.Fatal(err)
	}

	// root has no recorded dependent at all and must never be reaped by
	// this sweep, regardless of its own state.
	root := target.NewPassive("root", target.BuildProcess{Kind: target.BuildNoOperation})
	root.State = []target.StateEntry{{Kind: target.Active, Timestamp: time.Now().UTC()}}
	if err := s.Put(ctx, root); err != nil {
		t.Fatal(err)
	}

	d := newTestDriver(s)
	if err := d.sweepOrphans(ctx); err != nil {
		t.Fatalf("sweepOrphans: %v", err)
	}

	if !d.takeKill("dep") {
		t.Error("expected dep (alive, only dependent terminal) to be requested for kill")
	}
	if d.takeKill("root") {
		t.Error("expected root (no recorded dependent) to never be reaped by the orphan sweep")
	}
}

func TestNotifyClosesAfterBatchCommit(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	nt := target.NewPassive("t1", target.BuildProcess{Kind: target.BuildNoOperation})
	if err := s.Put(ctx, nt); err != nil {
		t.Fatal(err)
	}
	d := newTestDriver(s)

	ch := d.Notify()
	if err := d.RunBatch(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected Notify channel to close after RunBatch commits")
	}
}
