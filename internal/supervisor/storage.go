package supervisor

import "context"

// LifecycleStorage is the durable-persistence collaborator contract from
// spec section 6. The core depends on this interface only — concrete
// backends (e.g. the sqlite implementation in
// internal/supervisor/storage/sqlite) live outside this package and are
// wired in by the caller that constructs a LifecycleManager.
type LifecycleStorage interface {
	// SaveInstance upserts instance by ID. Must be atomic.
	SaveInstance(ctx context.Context, instance ResourceInstance) error

	// RemoveInstance deletes id's row, if present.
	RemoveInstance(ctx context.Context, id ResourceId) error

	// LoadActiveInstances returns every non-terminal instance present at
	// last save.
	LoadActiveInstances(ctx context.Context) ([]ResourceInstance, error)

	// RecordTransition appends transition to the durable log. substate is
	// an optional handler-defined label recorded alongside the transition.
	// Losing a transition here is tolerable — the in-memory ring in
	// StateRegistry is authoritative for short-term history.
	RecordTransition(ctx context.Context, transition StateTransition, substate string) error
}
