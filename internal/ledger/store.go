package ledger

import "context"

// MutateFunc derives the next project state. It must not keep references
// to its argument and may be invoked more than once when a store retries.
type MutateFunc func(Project) (Project, error)

// Store persists project aggregates. Implementations serialize Update per
// project: the load, fn and commit of one call never interleave with
// another Update of the same project. Different projects are independent.
type Store interface {
	Create(ctx context.Context, p Project) error
	Get(ctx context.Context, projectID, clientID string) (Project, error)

	// Update loads (projectID, clientID), applies fn and commits the result
	// atomically with Version incremented. An error from fn aborts the
	// update and is returned unchanged. Missing projects yield
	// ProjectNotFound; detected concurrent writes yield Conflict.
	Update(ctx context.Context, projectID, clientID string, fn MutateFunc) (Project, error)
}
