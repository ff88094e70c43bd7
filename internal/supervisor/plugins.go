package supervisor

import (
	"context"
	"sync"
)

// ResourceHandler is the polymorphism point: one implementation per
// ResourceType, registered into a PluginRegistry. Methods that may do I/O
// take a context so the facade can enforce the per-phase timeouts from
// spec section 5 (30s start/stop, 10s health_check by default).
type ResourceHandler interface {
	// ResourceType returns the type this handler serves.
	ResourceType() ResourceType

	// Start brings a new instance up, returning it in Running or Idle.
	Start(ctx context.Context, id ResourceId, config ResourceConfig) (ResourceInstance, error)

	// Stop gracefully halts instance, leaving it Completed or Failed.
	Stop(ctx context.Context, instance *ResourceInstance) error

	// Kill forcibly halts instance, leaving it Failed{terminal:false}.
	Kill(ctx context.Context, instance *ResourceInstance) error

	// ExtractState produces a PreservedState bag from instance's current
	// condition, to be handed to ApplyState on the same or a successor
	// instance.
	ExtractState(ctx context.Context, instance *ResourceInstance) (PreservedState, error)

	// ApplyState restores instance from a previously extracted bag.
	ApplyState(ctx context.Context, instance *ResourceInstance, state PreservedState) error

	// GetFallbacks enumerates what could be tried next for a Stuck
	// instance. Pure: no I/O, no error path. First element is always the
	// handler's preferred retry; destructive options must not precede
	// non-destructive ones unless no non-destructive option exists.
	GetFallbacks(instance ResourceInstance) []FallbackOption

	// HealthCheck lets a handler report liveness independent of the
	// heartbeat mechanism. Neither the HealthMonitor sweep, which works from
	// recorded heartbeats, nor the CLI calls it.
	HealthCheck(ctx context.Context, instance ResourceInstance) (HealthStatus, error)

	// Cleanup releases any external resources held by instance. Called
	// after Abort and after a Transfer source is retired.
	Cleanup(ctx context.Context, instance ResourceInstance) error
}

// PluginRegistry is keyed by ResourceType and maintains deterministic
// registration order for registered_types(). Registration is single-writer;
// lookup takes the read lock only long enough to fetch the handler, and
// WithHandler invokes its callback after releasing it, so no lock guard's
// lifetime leaks into caller code.
type PluginRegistry struct {
	mu      sync.RWMutex
	handlers map[ResourceType]ResourceHandler
	order   []ResourceType
}

// NewPluginRegistry creates an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{handlers: make(map[ResourceType]ResourceHandler)}
}

// Register adds handler, replacing any existing handler for its type. New
// types are appended to the deterministic registration order; replacing an
// existing type does not change its position.
func (p *PluginRegistry) Register(handler ResourceHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := handler.ResourceType()
	if _, exists := p.handlers[t]; !exists {
		p.order = append(p.order, t)
	}
	p.handlers[t] = handler
}

// Unregister removes the handler for t. Returns true if one was removed.
func (p *PluginRegistry) Unregister(t ResourceType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.handlers[t]; !exists {
		return false
	}
	delete(p.handlers, t)
	for i, rt := range p.order {
		if rt.Equal(t) {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// IsRegistered reports whether a handler is registered for t.
func (p *PluginRegistry) IsRegistered(t ResourceType) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.handlers[t]
	return ok
}

// RegisteredTypes returns every registered type in registration order.
func (p *PluginRegistry) RegisteredTypes() []ResourceType {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ResourceType, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of registered handlers.
func (p *PluginRegistry) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers)
}

// Clear removes every registered handler.
func (p *PluginRegistry) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = make(map[ResourceType]ResourceHandler)
	p.order = nil
}

// WithHandler invokes fn with the handler registered for t. The read lock
// is held only for the lookup and is released before fn runs, so a slow
// handler call never blocks Register. Returns ErrHandlerNotRegistered if no
// handler is registered for t.
func (p *PluginRegistry) WithHandler(t ResourceType, fn func(ResourceHandler) error) error {
	p.mu.RLock()
	handler, ok := p.handlers[t]
	p.mu.RUnlock()

	if !ok {
		return NewError(ErrHandlerNotRegistered, "no handler registered for resource type "+t.String(), nil)
	}
	return fn(handler)
}
