package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/store"
	"github.com/openfroyo/targetd/pkg/target"
)

// AdmissionPolicy is the optional submit_targets admission hook (§4.3,
// §9): additive and a no-op when unconfigured. A concrete
// implementation (pkg/policy, backed by OPA) evaluates a target
// against a Rego bundle and returns a denial reason when rejected.
type AdmissionPolicy interface {
	Evaluate(ctx context.Context, t *target.Target) (allow bool, reason string, err error)
}

// Activator activates a newly submitted target, mirroring the
// driver's Passive->Activable transition (§4.4).
type Activator interface {
	Activate(ctx context.Context, id, cause string) error
}

// SubmitTargets implements §4.3: for each target in the batch, collapse
// it onto an existing equivalent (in the store or earlier in this same
// batch) if one exists, otherwise run it past the admission policy and
// persist it. Dependency ids referring to a collapsed submitted target
// are rewritten to the canonical id before persistence. The entire
// batch is rejected before any mutation if it would introduce a
// dependency cycle. A persisted target is only enqueued for activation
// when it was submitted with Active set; others stay Passive until the
// activation cascade or a fallback reaches them.
func SubmitTargets(ctx context.Context, st store.Store, policy AdmissionPolicy, activator Activator, targets []*target.Target) (map[string]string, error) {
	idMapping := make(map[string]string, len(targets))
	submittedIDs := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		submittedIDs[t.ID] = true
	}

	if err := checkForCycles(ctx, st, targets); err != nil {
		return nil, err
	}

	for _, t := range targets {
		originalID := t.ID

		rewritten := make([]string, len(t.Dependencies))
		for i, dep := range t.Dependencies {
			if canonical, ok := idMapping[dep]; ok {
				rewritten[i] = canonical
			} else {
				rewritten[i] = dep
			}
		}
		t.Dependencies = rewritten

		if existing, found, err := st.FindEquivalent(ctx, t); err != nil {
			return nil, err
		} else if found {
			idMapping[originalID] = existing
			continue
		}

		if policy != nil {
			allow, reason, err := policy.Evaluate(ctx, t)
			if err != nil {
				return nil, engineerr.Wrap(engineerr.ConfigError, "admission policy evaluation", err).WithTarget(originalID)
			}
			if !allow {
				return nil, engineerr.New(engineerr.ConfigError, fmt.Sprintf("target %s rejected by admission policy: %s", originalID, reason)).WithTarget(originalID)
			}
		}

		if len(t.State) == 0 {
			t.State = []target.StateEntry{{Kind: target.Passive, Timestamp: time.Now().UTC(), Cause: "created"}}
		}
		if err := st.Put(ctx, t); err != nil {
			return nil, err
		}
		idMapping[originalID] = t.ID

		if activator != nil && t.Active {
			if err := activator.Activate(ctx, t.ID, "user"); err != nil {
				return nil, err
			}
		}
	}

	return idMapping, nil
}

// checkForCycles performs a DFS over the submitted batch plus whatever
// existing stored targets they reference, rejecting the whole
// submission if any cycle is reachable (§4.3).
func checkForCycles(ctx context.Context, st store.Store, targets []*target.Target) error {
	byID := make(map[string]*target.Target, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	fetched := make(map[string]*target.Target)

	var deps func(id string) []string
	deps = func(id string) []string {
		if t, ok := byID[id]; ok {
			return t.Dependencies
		}
		if t, ok := fetched[id]; ok {
			return t.Dependencies
		}
		t, err := st.Get(ctx, id)
		if err != nil {
			return nil
		}
		fetched[id] = t
		return t.Dependencies
	}

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return engineerr.New(engineerr.ProtocolError, fmt.Sprintf("dependency cycle detected at target %s", id))
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range deps(id) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, t := range targets {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}
