// Package store implements the persistent target store (§4.1): an
// id-keyed mapping onto SQLite with atomic per-id updates, active/alive
// indexes, and an equivalence-key lookup.
package store

import (
	"context"

	"github.com/openfroyo/targetd/pkg/target"
)

// UpdateFunc is the pure read-modify-write function passed to Update.
// It must not have side effects of its own; any side effects the
// caller wants belong after Update returns.
type UpdateFunc func(current *target.Target) (*target.Target, error)

// Store is the persistent mapping the driver and protocol layer
// depend on.
type Store interface {
	Get(ctx context.Context, id string) (*target.Target, error)
	Put(ctx context.Context, t *target.Target) error
	Update(ctx context.Context, id string, f UpdateFunc) (*target.Target, error)
	IterActive(ctx context.Context) ([]*target.Target, error)
	IterAlive(ctx context.Context) ([]*target.Target, error)
	// IterAll returns every target regardless of status_class, used by
	// the orphan sweep (§4.5) and by protocol queries that must see
	// terminal history (Get_targets and Get_target_flat_states when no
	// ids are given, Get_target_ids).
	IterAll(ctx context.Context) ([]*target.Target, error)
	FindEquivalent(ctx context.Context, candidate *target.Target) (string, bool, error)
	// PutDeferred and TakeDeferred back the §6/§9 deferred id-list
	// pagination mechanism.
	PutDeferred(ctx context.Context, token string, ids []string) error
	TakeDeferred(ctx context.Context, token string) ([]string, bool, error)
	Close() error
}
