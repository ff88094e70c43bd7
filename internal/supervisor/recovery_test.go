package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newRecoveryFixture(t *testing.T) (*StateRegistry, *PluginRegistry, *RecoveryEngine) {
	registry := NewStateRegistry(nil)
	plugins := NewPluginRegistry()
	engine := NewRecoveryEngine(registry, plugins, nil)
	return registry, plugins, engine
}

func TestRecoveryEngineRetrySucceeds(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	handler := newMockHandler(ResourceTypeAgent)
	plugins.Register(handler)

	inst := newTestInstance(ResourceTypeAgent, "r1")
	registry.Register(inst)
	registry.UpdateState(inst.ID, Stuck(time.Now(), 1, nil), "no heartbeat")

	result, err := engine.Recover(context.Background(), inst.ID, RetryAction(false))
	require.NoError(t, err)
	require.Equal(t, RecoveryRecovered, result.Kind)

	got, _ := registry.Get(inst.ID)
	require.Equal(t, StateRunning, got.State.Kind)
	require.Equal(t, uint32(1), got.RecoveryAttempts)
}

func TestRecoveryEngineRetryExtractStateFailureFallsThrough(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	handler := newMockHandler(ResourceTypeAgent)
	handler.extractStateFn = func(ctx context.Context, instance *ResourceInstance) (PreservedState, error) {
		return PreservedState{}, errors.New("extract boom")
	}
	plugins.Register(handler)

	inst := newTestInstance(ResourceTypeAgent, "r2")
	registry.Register(inst)

	result, err := engine.Recover(context.Background(), inst.ID, RetryAction(true))
	require.NoError(t, err)
	require.Equal(t, RecoveryRecovered, result.Kind)

	got, _ := registry.Get(inst.ID)
	require.Equal(t, StateRunning, got.State.Kind)
}

func TestRecoveryEngineRetryStartFailureLeavesNonTerminalFailed(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	handler := newMockHandler(ResourceTypeAgent)
	handler.startFn = func(ctx context.Context, id ResourceId, config ResourceConfig) (ResourceInstance, error) {
		return ResourceInstance{}, errors.New("start boom")
	}
	plugins.Register(handler)

	inst := newTestInstance(ResourceTypeAgent, "r3")
	registry.Register(inst)

	_, err := engine.Recover(context.Background(), inst.ID, RetryAction(false))
	require.Error(t, err)

	got, _ := registry.Get(inst.ID)
	require.Equal(t, StateFailed, got.State.Kind)
	require.False(t, got.State.Terminal)
}

func TestRecoveryEngineTransferSucceeds(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	sourceHandler := newMockHandler(ResourceTypeAgent)
	targetHandler := newMockHandler(ResourceTypeChannel)
	plugins.Register(sourceHandler)
	plugins.Register(targetHandler)

	inst := newTestInstance(ResourceTypeAgent, "t1")
	registry.Register(inst)

	toType := ResourceTypeChannel
	result, err := engine.Recover(context.Background(), inst.ID, TransferAction(&toType, false))
	require.NoError(t, err)
	require.Equal(t, RecoveryTransferred, result.Kind)
	require.True(t, result.ToID.Type.Equal(ResourceTypeChannel))

	source, _ := registry.Get(inst.ID)
	require.Equal(t, StateCompleted, source.State.Kind)

	successor, ok := registry.Get(result.ToID)
	require.True(t, ok)
	require.Equal(t, StateRunning, successor.State.Kind)
}

func TestRecoveryEngineTransferApplyStateFailureRollsBackSuccessor(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	sourceHandler := newMockHandler(ResourceTypeAgent)
	targetHandler := newMockHandler(ResourceTypeChannel)
	targetHandler.applyStateFn = func(ctx context.Context, instance *ResourceInstance, state PreservedState) error {
		return errors.New("apply boom")
	}
	var killed bool
	targetHandler.killFn = func(ctx context.Context, instance *ResourceInstance) error {
		killed = true
		return nil
	}
	plugins.Register(sourceHandler)
	plugins.Register(targetHandler)

	inst := newTestInstance(ResourceTypeAgent, "t2")
	registry.Register(inst)

	toType := ResourceTypeChannel
	_, err := engine.Recover(context.Background(), inst.ID, TransferAction(&toType, true))
	require.Error(t, err)
	require.True(t, killed)

	source, _ := registry.Get(inst.ID)
	require.Equal(t, StateRecovering, source.State.Kind)
	require.Equal(t, 1, registry.Count())
}

func TestRecoveryEngineEscalateSetsTierAndRecovering(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	plugins.Register(newMockHandler(ResourceTypeAgent))

	inst := newTestInstance(ResourceTypeAgent, "e1")
	registry.Register(inst)

	result, err := engine.Recover(context.Background(), inst.ID, EscalateAction(2))
	require.NoError(t, err)
	require.Equal(t, RecoveryEscalated, result.Kind)
	require.Equal(t, uint8(2), result.Tier)

	got, _ := registry.Get(inst.ID)
	require.Equal(t, uint8(2), got.CurrentEscalationTier)
	require.Equal(t, StateRecovering, got.State.Kind)
}

func TestRecoveryEngineAbortKillsCleansAndFails(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	handler := newMockHandler(ResourceTypeAgent)
	var cleanedUp bool
	handler.cleanupFn = func(ctx context.Context, instance ResourceInstance) error {
		cleanedUp = true
		return nil
	}
	plugins.Register(handler)

	inst := newTestInstance(ResourceTypeAgent, "a1")
	registry.Register(inst)

	result, err := engine.Recover(context.Background(), inst.ID, AbortAction("operator requested"))
	require.NoError(t, err)
	require.Equal(t, RecoveryFailed, result.Kind)
	require.True(t, cleanedUp)

	got, _ := registry.Get(inst.ID)
	require.Equal(t, StateFailed, got.State.Kind)
	require.True(t, got.State.Terminal)
}

func TestRecoveryEngineRecoverUnknownResource(t *testing.T) {
	_, _, engine := newRecoveryFixture(t)
	_, err := engine.Recover(context.Background(), NewResourceId(ResourceTypeAgent, "ghost"), RetryAction(false))
	require.Error(t, err)
	require.Equal(t, ErrNotFound, KindOf(err))
}

func TestRecoveryEngineHandlerNotRegistered(t *testing.T) {
	registry, _, engine := newRecoveryFixture(t)
	inst := newTestInstance(ResourceTypeAgent, "nohandler")
	registry.Register(inst)

	_, err := engine.Recover(context.Background(), inst.ID, RetryAction(false))
	require.Error(t, err)
	require.Equal(t, ErrHandlerNotRegistered, KindOf(err))
}

func TestRecoveryEngineGetFallbacks(t *testing.T) {
	registry, plugins, engine := newRecoveryFixture(t)
	plugins.Register(newMockHandler(ResourceTypeAgent))

	inst := newTestInstance(ResourceTypeAgent, "f1")
	registry.Register(inst)

	opts, err := engine.GetFallbacks(inst.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	require.Equal(t, "retry", opts[0].ID)
}
