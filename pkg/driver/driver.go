// Package driver implements the batched concurrent step driver
// (§4.5): it selects a work set of alive targets, dispatches the pure
// automaton's requested side effects through the executor, commits
// results back to the store, and sweeps for orphans.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/targetd/pkg/automaton"
	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/executor"
	"github.com/openfroyo/targetd/pkg/store"
	"github.com/openfroyo/targetd/pkg/target"
	"github.com/openfroyo/targetd/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Config carries the concurrency and failure-policy knobs of §4.4/§5.
type Config struct {
	EngineStepBatchSize      int
	ConcurrentAutomatonSteps int
	HostTimeoutUpperBound    time.Duration
	OrphanKillingWait        time.Duration
	Policy                   automaton.Policy
}

// Driver is the single-writer process-wide scheduler loop.
type Driver struct {
	store   store.Store
	exec    executor.Executor
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	killMu      sync.Mutex
	killPending map[string]bool

	dispatchMu sync.Mutex
	dispatched map[string]bool

	lastOrphanSweep time.Time

	notifyMu sync.Mutex
	waiters  []chan struct{}
}

// New builds a Driver. metrics may be nil, in which case the driver
// runs unobserved; cmd/targetd normally wires the process's
// telemetry.Metrics instance here (§2.2 domain stack) rather than the
// driver owning its own disconnected registry.
func New(s store.Store, exec executor.Executor, cfg Config, logger zerolog.Logger, metrics *telemetry.Metrics) *Driver {
	if cfg.EngineStepBatchSize <= 0 {
		cfg.EngineStepBatchSize = 64
	}
	if cfg.ConcurrentAutomatonSteps <= 0 {
		cfg.ConcurrentAutomatonSteps = 4
	}
	if cfg.HostTimeoutUpperBound <= 0 {
		cfg.HostTimeoutUpperBound = 60 * time.Second
	}
	if cfg.OrphanKillingWait <= 0 {
		cfg.OrphanKillingWait = 30 * time.Second
	}
	return &Driver{
		store:       s,
		exec:        exec,
		cfg:         cfg,
		logger:      logger.With().Str("component", "driver").Logger(),
		metrics:     metrics,
		killPending: make(map[string]bool),
		dispatched:  make(map[string]bool),
	}
}

// RequestKill marks id for kill at its next step, satisfying §4.4's
// "asynchronous, acknowledged immediately" contract.
func (d *Driver) RequestKill(id string) {
	d.killMu.Lock()
	d.killPending[id] = true
	d.killMu.Unlock()
}

func (d *Driver) takeKill(id string) bool {
	d.killMu.Lock()
	defer d.killMu.Unlock()
	return d.killPending[id]
}

func (d *Driver) clearKill(id string) {
	d.killMu.Lock()
	delete(d.killPending, id)
	d.killMu.Unlock()
}

// Activate activates id (a dependency cascade or an if_fails_activate
// fallback) exactly as the automaton's Passive->Activable rule
// requires, idempotently: activating an already-active target is a
// no-op.
func (d *Driver) Activate(ctx context.Context, id, cause string) error {
	_, err := d.store.Update(ctx, id, func(cur *target.Target) (*target.Target, error) {
		if cur.Current().Kind != target.Passive {
			return cur, nil
		}
		nt, _ := automaton.Step(cur, automaton.Observations{ActivateRequested: true, ActivationCause: cause}, d.cfg.Policy)
		return nt, nil
	})
	return err
}

// RunBatch performs a single pass of the driver loop: select a work
// set, dispatch up to ConcurrentAutomatonSteps steps in parallel,
// commit results, and run the orphan sweep if due.
func (d *Driver) RunBatch(ctx context.Context) error {
	batchStart := time.Now()
	work, err := d.store.IterActive(ctx)
	if err != nil {
		return err
	}
	activeCount := len(work)
	if len(work) > d.cfg.EngineStepBatchSize {
		work = work[:d.cfg.EngineStepBatchSize]
	}

	if d.metrics != nil {
		if alive, err := d.store.IterAlive(ctx); err == nil {
			d.metrics.SetAliveTargets(float64(len(alive)))
		}
		d.metrics.SetActiveTargets(float64(activeCount))
	}

	jobs := make(chan *target.Target)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.ConcurrentAutomatonSteps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				d.stepOne(ctx, t)
			}
		}()
	}
	for _, t := range work {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	if d.metrics != nil {
		d.metrics.RecordBatch(len(work), time.Since(batchStart))
	}

	d.notifyWaiters()

	if time.Since(d.lastOrphanSweep) >= d.cfg.OrphanKillingWait {
		d.lastOrphanSweep = time.Now()
		if err := d.sweepOrphans(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("orphan sweep failed")
		}
	}
	return nil
}

// stepOne drives a single target through one external round-trip (if
// its current state requests one) and commits the result. The driver
// never starts a second outstanding external operation for the same
// target concurrently (the dispatched set guards this).
func (d *Driver) stepOne(ctx context.Context, t *target.Target) {
	d.dispatchMu.Lock()
	if d.dispatched[t.ID] {
		d.dispatchMu.Unlock()
		return
	}
	d.dispatched[t.ID] = true
	d.dispatchMu.Unlock()
	defer func() {
		d.dispatchMu.Lock()
		delete(d.dispatched, t.ID)
		d.dispatchMu.Unlock()
	}()

	deps := d.dependencyStates(ctx, t)
	obs := automaton.Observations{Now: time.Now().UTC(), DependencyStates: deps}
	if d.takeKill(t.ID) {
		obs.KillRequested = true
	}

	nt, actions := automaton.Step(t, obs, d.cfg.Policy)
	nt, moreActions := d.dispatchActions(ctx, nt, actions)

	if d.metrics != nil && nt.Current().Kind != t.Current().Kind {
		d.metrics.RecordTransition(string(nt.Current().Kind))
	}
	if d.metrics != nil && nt.Attempts > t.Attempts {
		d.metrics.RecordAttempt()
	}

	if nt.Current().Kind.IsTerminal() {
		d.clearKill(t.ID)
	}

	if _, err := d.store.Update(ctx, t.ID, func(cur *target.Target) (*target.Target, error) {
		nt.Version = cur.Version
		return nt, nil
	}); err != nil && !engineerr.IsFatal(err) {
		d.logger.Warn().Err(err).Str("target", t.ID).Msg("commit failed")
	} else if err != nil {
		d.logger.Error().Err(err).Str("target", t.ID).Msg("fatal store conflict")
	}

	for _, a := range moreActions {
		if a.Kind == automaton.ActionActivate {
			if err := d.Activate(ctx, a.TargetID, a.Cause); err != nil {
				d.logger.Warn().Err(err).Str("target", a.TargetID).Msg("cascade activation failed")
			}
		}
	}
}

// dispatchActions executes the single external call (if any) among
// actions through the executor, folds its result back into another
// Step call, and returns the final target value plus any
// activation actions produced by either round.
func (d *Driver) dispatchActions(ctx context.Context, nt *target.Target, actions []automaton.Action) (*target.Target, []automaton.Action) {
	var activations []automaton.Action
	for _, a := range actions {
		if a.Kind == automaton.ActionActivate {
			activations = append(activations, a)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.HostTimeoutUpperBound)
		callStart := time.Now()
		obs := automaton.Observations{Now: time.Now().UTC()}
		action := string(a.Kind)
		var callErr error
		switch a.Kind {
		case automaton.ActionCheckCondition:
			held, err := d.exec.CheckCondition(callCtx, a.Host, a.Condition)
			callErr = err
			if err != nil {
				obs.ConditionErr = err
			} else {
				obs.ConditionHeld = &held
			}
		case automaton.ActionStart:
			handle, err := d.exec.Start(callCtx, a.BuildProcess)
			callErr = err
			if err != nil {
				obs.StartErr = err
			} else {
				obs.StartHandle = handle
			}
		case automaton.ActionProbe:
			res, err := d.exec.Probe(callCtx, a.Handle)
			callErr = err
			if err != nil {
				obs.ProbeErr = err
			} else {
				obs.Probe = &res
			}
		case automaton.ActionKill:
			if err := d.exec.Kill(callCtx, a.Handle); err != nil {
				obs.KillErr = err
				callErr = err
			}
		}
		cancel()

		if d.metrics != nil {
			d.metrics.RecordExecutorCall(action, time.Since(callStart))
			if callErr != nil {
				d.metrics.RecordExecutorError(action, string(engineerr.KindOf(callErr)))
			}
		}

		next, more := automaton.Step(nt, obs, d.cfg.Policy)
		nt = next
		for _, m := range more {
			if m.Kind == automaton.ActionActivate {
				activations = append(activations, m)
			}
		}
	}
	return nt, activations
}

// sweepOrphans reaps alive targets whose active descendants are all
// terminal (§4.5, §9, GLOSSARY: Orphan): once nothing downstream can
// still make use of a target's continued progress, it is requested for
// kill through the same asynchronous path Kill_targets uses, so it
// follows the automaton's kill transitions on the next batches rather
// than being force-committed here: Tried_to_kill -> Killing -> Killed
// -> Dead for a started target, Killed -> Dead for one not yet started.
func (d *Driver) sweepOrphans(ctx context.Context) error {
	all, err := d.store.IterAll(ctx)
	if err != nil {
		return err
	}

	hasDependent := make(map[string]bool)
	allDependentsTerminal := make(map[string]bool)
	for _, t := range all {
		for _, dep := range t.Dependencies {
			hasDependent[dep] = true
			if _, seen := allDependentsTerminal[dep]; !seen {
				allDependentsTerminal[dep] = true
			}
			if !t.Current().Kind.IsTerminal() {
				allDependentsTerminal[dep] = false
			}
		}
	}

	for _, t := range all {
		kind := t.Current().Kind
		if !kind.IsActive() || !kind.IsKillable() {
			continue
		}
		// A target with no recorded dependent was activated directly
		// (by a user or as a root of the submitted batch) and is never
		// considered orphaned by this sweep.
		if !hasDependent[t.ID] || !allDependentsTerminal[t.ID] {
			continue
		}
		d.logger.Info().Str("target", t.ID).Msg("reaping orphan")
		if d.metrics != nil {
			d.metrics.RecordOrphanReaped()
		}
		d.RequestKill(t.ID)
	}
	return nil
}

func (d *Driver) dependencyStates(ctx context.Context, t *target.Target) map[string]target.StateKind {
	out := make(map[string]target.StateKind, len(t.Dependencies))
	for _, depID := range t.Dependencies {
		dep, err := d.store.Get(ctx, depID)
		if err != nil {
			continue
		}
		out[depID] = dep.Current().Kind
	}
	return out
}

// notifyWaiters wakes blocking protocol queries once per batch, after
// that batch's commits, so
// Block_if_empty_at_most(t) returns as soon as a match appears rather
// than always waiting the full timeout (§5, §8 boundary law).
func (d *Driver) notifyWaiters() {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	for _, ch := range d.waiters {
		close(ch)
	}
	d.waiters = nil
}

// Notify returns a channel that closes after the next batch commits,
// for the protocol layer's blocking-query support.
func (d *Driver) Notify() <-chan struct{} {
	ch := make(chan struct{})
	d.notifyMu.Lock()
	d.waiters = append(d.waiters, ch)
	d.notifyMu.Unlock()
	return ch
}

// Run loops RunBatch until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.RunBatch(ctx); err != nil {
			if engineerr.IsFatal(err) {
				return err
			}
			d.logger.Warn().Err(err).Msg("batch error")
		}
	}
}
