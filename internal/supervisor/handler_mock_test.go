package supervisor

import (
	"context"
	"time"
)

// mockHandler is a table-driven stand-in for a real ResourceHandler,
// mirroring original_source's MockHandler test fixture: every method is
// configurable via a func field, defaulting to a trivial success path.
type mockHandler struct {
	rt ResourceType

	startFn        func(ctx context.Context, id ResourceId, config ResourceConfig) (ResourceInstance, error)
	stopFn         func(ctx context.Context, instance *ResourceInstance) error
	killFn         func(ctx context.Context, instance *ResourceInstance) error
	extractStateFn func(ctx context.Context, instance *ResourceInstance) (PreservedState, error)
	applyStateFn   func(ctx context.Context, instance *ResourceInstance, state PreservedState) error
	fallbacksFn    func(instance ResourceInstance) []FallbackOption
	healthCheckFn  func(ctx context.Context, instance ResourceInstance) (HealthStatus, error)
	cleanupFn      func(ctx context.Context, instance ResourceInstance) error
}

func newMockHandler(rt ResourceType) *mockHandler {
	return &mockHandler{rt: rt}
}

func (h *mockHandler) ResourceType() ResourceType { return h.rt }

func (h *mockHandler) Start(ctx context.Context, id ResourceId, config ResourceConfig) (ResourceInstance, error) {
	if h.startFn != nil {
		return h.startFn(ctx, id, config)
	}
	return ResourceInstance{
		ID:           id,
		ResourceType: h.rt,
		State:        Running("started", time.Now(), nil),
		Config:       config,
		CreatedAt:    time.Now(),
	}, nil
}

func (h *mockHandler) Stop(ctx context.Context, instance *ResourceInstance) error {
	if h.stopFn != nil {
		return h.stopFn(ctx, instance)
	}
	return nil
}

func (h *mockHandler) Kill(ctx context.Context, instance *ResourceInstance) error {
	if h.killFn != nil {
		return h.killFn(ctx, instance)
	}
	return nil
}

func (h *mockHandler) ExtractState(ctx context.Context, instance *ResourceInstance) (PreservedState, error) {
	if h.extractStateFn != nil {
		return h.extractStateFn(ctx, instance)
	}
	return PreservedState{Data: []byte(`{}`)}, nil
}

func (h *mockHandler) ApplyState(ctx context.Context, instance *ResourceInstance, state PreservedState) error {
	if h.applyStateFn != nil {
		return h.applyStateFn(ctx, instance, state)
	}
	return nil
}

func (h *mockHandler) GetFallbacks(instance ResourceInstance) []FallbackOption {
	if h.fallbacksFn != nil {
		return h.fallbacksFn(instance)
	}
	return []FallbackOption{
		{ID: "retry", Label: "Retry", Description: "retry in place", Action: RetryAction(true)},
	}
}

func (h *mockHandler) HealthCheck(ctx context.Context, instance ResourceInstance) (HealthStatus, error) {
	if h.healthCheckFn != nil {
		return h.healthCheckFn(ctx, instance)
	}
	return healthyStatus(), nil
}

func (h *mockHandler) Cleanup(ctx context.Context, instance ResourceInstance) error {
	if h.cleanupFn != nil {
		return h.cleanupFn(ctx, instance)
	}
	return nil
}
