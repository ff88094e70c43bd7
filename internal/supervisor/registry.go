package supervisor

import (
	"log/slog"
	"sync"
	"time"
)

// MaxHistoryPerResource bounds the per-resource transition ring.
const MaxHistoryPerResource = 100

// MaxGlobalHistory bounds the global transition ring.
const MaxGlobalHistory = 10000

// StateRegistry is the authoritative in-memory map of resource -> state,
// plus transition history. It is the only component that mutates a
// ResourceInstance; every mutation also appends the transition under the
// same writer critical section so observers never see a state change
// without its matching log entry.
//
// Concurrency: multi-reader/single-writer. Readers never block each other;
// writers serialise per operation, not per resource, matching spec section
// 4.1's concurrency note and every other stateful component in this
// package.
type StateRegistry struct {
	mu sync.RWMutex

	resources  map[ResourceId]ResourceInstance
	typeIndex  map[ResourceType]map[ResourceId]struct{}
	history    map[ResourceId][]StateTransition
	global     []StateTransition

	obsMu    sync.RWMutex
	observer func(StateTransition)

	log *slog.Logger
}

// NewStateRegistry creates an empty registry. A nil logger defaults to
// slog.Default().
func NewStateRegistry(log *slog.Logger) *StateRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &StateRegistry{
		resources: make(map[ResourceId]ResourceInstance),
		typeIndex: make(map[ResourceType]map[ResourceId]struct{}),
		history:   make(map[ResourceId][]StateTransition),
		log:       log,
	}
}

// Register inserts instance if its ID is not already present. Returns
// false without mutating anything if the ID already exists.
func (r *StateRegistry) Register(instance ResourceInstance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[instance.ID]; exists {
		return false
	}
	r.resources[instance.ID] = instance

	ids, ok := r.typeIndex[instance.ResourceType]
	if !ok {
		ids = make(map[ResourceId]struct{})
		r.typeIndex[instance.ResourceType] = ids
	}
	ids[instance.ID] = struct{}{}

	r.log.Debug("registered resource", "resource_id", instance.ID.String())
	return true
}

// Unregister removes id from the primary map and type index, returning the
// removed instance if it existed.
func (r *StateRegistry) Unregister(id ResourceId) (ResourceInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.resources[id]
	if !ok {
		return ResourceInstance{}, false
	}
	delete(r.resources, id)

	if ids, ok := r.typeIndex[instance.ResourceType]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.typeIndex, instance.ResourceType)
		}
	}

	r.log.Debug("unregistered resource", "resource_id", id.String())
	return instance, true
}

// SetTransitionObserver installs fn to be invoked, outside the registry's
// lock, after every successful UpdateState regardless of caller. This is
// how LifecycleManager drives state:changed emission and durable
// transition logging uniformly across every code path that mutates state
// directly through the registry — including RecoveryEngine's retry/
// transfer/escalate/abort algorithms, which have no access to the
// manager's storage or event sink. Pass nil to remove the observer.
func (r *StateRegistry) SetTransitionObserver(fn func(StateTransition)) {
	r.obsMu.Lock()
	r.observer = fn
	r.obsMu.Unlock()
}

func (r *StateRegistry) notifyTransition(transition StateTransition) {
	r.obsMu.RLock()
	fn := r.observer
	r.obsMu.RUnlock()
	if fn != nil {
		fn(transition)
	}
}

// UpdateState atomically replaces id's state and appends the resulting
// StateTransition to both the per-resource and global rings. Rejects
// transitions out of a terminal state and returns false for unknown IDs.
// On success, notifies the registered transition observer after releasing
// the lock.
func (r *StateRegistry) UpdateState(id ResourceId, newState ResourceState, reason string) bool {
	r.mu.Lock()

	instance, ok := r.resources[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if instance.State.IsTerminal() {
		r.log.Warn("rejected transition out of terminal state", "resource_id", id.String(), "from", instance.State.Kind)
		r.mu.Unlock()
		return false
	}

	transition := StateTransition{
		ResourceID: id,
		FromState:  instance.State,
		ToState:    newState,
		Timestamp:  time.Now(),
		Reason:     reason,
	}

	instance.State = newState
	r.resources[id] = instance

	perResource := append(r.history[id], transition)
	if len(perResource) > MaxHistoryPerResource {
		perResource = perResource[len(perResource)-MaxHistoryPerResource:]
	}
	r.history[id] = perResource

	r.global = append(r.global, transition)
	if len(r.global) > MaxGlobalHistory {
		r.global = r.global[len(r.global)-MaxGlobalHistory:]
	}

	r.mu.Unlock()

	r.notifyTransition(transition)
	return true
}

// Get returns a copy of the instance registered under id.
func (r *StateRegistry) Get(id ResourceId) (ResourceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.resources[id]
	return instance, ok
}

// Contains reports whether id is currently registered.
func (r *StateRegistry) Contains(id ResourceId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resources[id]
	return ok
}

// GetByType returns every instance of the given ResourceType.
func (r *StateRegistry) GetByType(t ResourceType) []ResourceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.typeIndex[t]
	out := make([]ResourceInstance, 0, len(ids))
	for id := range ids {
		out = append(out, r.resources[id])
	}
	return out
}

// GetAll returns every tracked instance.
func (r *StateRegistry) GetAll() []ResourceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ResourceInstance, 0, len(r.resources))
	for _, instance := range r.resources {
		out = append(out, instance)
	}
	return out
}

// Count returns the number of tracked instances.
func (r *StateRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}

// GetByState returns every instance whose state satisfies predicate.
func (r *StateRegistry) GetByState(predicate func(ResourceState) bool) []ResourceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ResourceInstance
	for _, instance := range r.resources {
		if predicate(instance.State) {
			out = append(out, instance)
		}
	}
	return out
}

// GetStuck returns every instance currently in the Stuck state.
func (r *StateRegistry) GetStuck() []ResourceInstance {
	return r.GetByState(func(s ResourceState) bool { return s.Kind == StateStuck })
}

// GetRunning returns every instance currently in the Running state.
func (r *StateRegistry) GetRunning() []ResourceInstance {
	return r.GetByState(func(s ResourceState) bool { return s.Kind == StateRunning })
}

// GetHistory returns id's per-resource transition ring, oldest first.
func (r *StateRegistry) GetHistory(id ResourceId) []StateTransition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := r.history[id]
	out := make([]StateTransition, len(h))
	copy(out, h)
	return out
}

// GetGlobalHistory returns the entire global transition ring, oldest first.
func (r *StateRegistry) GetGlobalHistory() []StateTransition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StateTransition, len(r.global))
	copy(out, r.global)
	return out
}

// GetRecentTransitions returns up to limit of the most recent global
// transitions, newest first.
func (r *StateRegistry) GetRecentTransitions(limit int) []StateTransition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.global)
	if limit > n {
		limit = n
	}
	out := make([]StateTransition, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.global[n-1-i]
	}
	return out
}

// IncrementRecoveryAttempts bumps id's recovery attempt counter and returns
// the new value, or 0 if id is unknown.
func (r *StateRegistry) IncrementRecoveryAttempts(id ResourceId) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.resources[id]
	if !ok {
		return 0
	}
	instance.RecoveryAttempts++
	r.resources[id] = instance
	return instance.RecoveryAttempts
}

// SetEscalationTier sets id's current escalation tier. Returns false if id
// is unknown.
func (r *StateRegistry) SetEscalationTier(id ResourceId, tier uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.resources[id]
	if !ok {
		return false
	}
	instance.CurrentEscalationTier = tier
	r.resources[id] = instance
	return true
}

// GetStats summarises the registry's current population by state kind.
func (r *StateRegistry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{Total: len(r.resources)}
	for _, instance := range r.resources {
		switch instance.State.Kind {
		case StateIdle:
			stats.Idle++
		case StateRunning:
			stats.Running++
		case StateStuck:
			stats.Stuck++
		case StateRecovering:
			stats.Recovering++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats
}

// Clear removes every tracked resource and all history. Test/reset hook.
func (r *StateRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resources = make(map[ResourceId]ResourceInstance)
	r.typeIndex = make(map[ResourceType]map[ResourceId]struct{})
	r.history = make(map[ResourceId][]StateTransition)
	r.global = nil
}
