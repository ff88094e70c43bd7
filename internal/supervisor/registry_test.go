package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestInstance(t ResourceType, instanceID string) ResourceInstance {
	id := NewResourceId(t, instanceID)
	return ResourceInstance{
		ID:           id,
		ResourceType: t,
		State:        Idle(),
		CreatedAt:    time.Now(),
	}
}

func TestStateRegistryRegisterRejectsDuplicate(t *testing.T) {
	r := NewStateRegistry(nil)
	inst := newTestInstance(ResourceTypeAgent, "a1")

	require.True(t, r.Register(inst))
	require.False(t, r.Register(inst))
	require.Equal(t, 1, r.Count())
}

func TestStateRegistryUpdateStateAppendsHistory(t *testing.T) {
	r := NewStateRegistry(nil)
	inst := newTestInstance(ResourceTypeTool, "t1")
	r.Register(inst)

	ok := r.UpdateState(inst.ID, Running("working", time.Now(), nil), "started")
	require.True(t, ok)

	got, ok := r.Get(inst.ID)
	require.True(t, ok)
	require.Equal(t, StateRunning, got.State.Kind)

	history := r.GetHistory(inst.ID)
	require.Len(t, history, 1)
	require.Equal(t, StateIdle, history[0].FromState.Kind)
	require.Equal(t, StateRunning, history[0].ToState.Kind)

	global := r.GetGlobalHistory()
	require.Len(t, global, 1)
}

func TestStateRegistryRejectsTransitionOutOfTerminalState(t *testing.T) {
	r := NewStateRegistry(nil)
	inst := newTestInstance(ResourceTypeAgent, "a2")
	r.Register(inst)

	require.True(t, r.UpdateState(inst.ID, Completed(time.Now(), nil), "done"))
	require.False(t, r.UpdateState(inst.ID, Running("x", time.Now(), nil), "should not apply"))

	got, _ := r.Get(inst.ID)
	require.Equal(t, StateCompleted, got.State.Kind)
}

func TestStateRegistryUpdateStateUnknownID(t *testing.T) {
	r := NewStateRegistry(nil)
	unknown := NewResourceId(ResourceTypeAgent, "missing")
	require.False(t, r.UpdateState(unknown, Running("x", time.Now(), nil), "noop"))
}

func TestStateRegistryPerResourceHistoryCapped(t *testing.T) {
	r := NewStateRegistry(nil)
	inst := newTestInstance(ResourceTypeAgent, "a3")
	r.Register(inst)

	for i := 0; i < MaxHistoryPerResource+20; i++ {
		substate := "iter"
		if i%2 == 0 {
			r.UpdateState(inst.ID, Running(substate, time.Now(), nil), "tick")
		} else {
			r.UpdateState(inst.ID, Idle(), "tick")
		}
	}

	history := r.GetHistory(inst.ID)
	require.Len(t, history, MaxHistoryPerResource)
}

func TestStateRegistryGetByTypeAndUnregister(t *testing.T) {
	r := NewStateRegistry(nil)
	a := newTestInstance(ResourceTypeAgent, "a4")
	b := newTestInstance(ResourceTypeChannel, "c4")
	r.Register(a)
	r.Register(b)

	agents := r.GetByType(ResourceTypeAgent)
	require.Len(t, agents, 1)
	require.True(t, agents[0].ID.Equal(a.ID))

	removed, ok := r.Unregister(a.ID)
	require.True(t, ok)
	require.True(t, removed.ID.Equal(a.ID))
	require.False(t, r.Contains(a.ID))
	require.Empty(t, r.GetByType(ResourceTypeAgent))
}

func TestStateRegistryGetStuckAndRunning(t *testing.T) {
	r := NewStateRegistry(nil)
	stuck := newTestInstance(ResourceTypeAgent, "stuck1")
	running := newTestInstance(ResourceTypeAgent, "running1")
	r.Register(stuck)
	r.Register(running)

	r.UpdateState(stuck.ID, Stuck(time.Now(), 1, nil), "no heartbeat")
	r.UpdateState(running.ID, Running("working", time.Now(), nil), "started")

	require.Len(t, r.GetStuck(), 1)
	require.Len(t, r.GetRunning(), 1)
}

func TestStateRegistryIncrementRecoveryAttemptsAndEscalationTier(t *testing.T) {
	r := NewStateRegistry(nil)
	inst := newTestInstance(ResourceTypeAgent, "a5")
	r.Register(inst)

	require.Equal(t, uint32(1), r.IncrementRecoveryAttempts(inst.ID))
	require.Equal(t, uint32(2), r.IncrementRecoveryAttempts(inst.ID))

	require.True(t, r.SetEscalationTier(inst.ID, 2))
	got, _ := r.Get(inst.ID)
	require.Equal(t, uint8(2), got.CurrentEscalationTier)
}

func TestStateRegistryGetStats(t *testing.T) {
	r := NewStateRegistry(nil)
	a := newTestInstance(ResourceTypeAgent, "stat1")
	b := newTestInstance(ResourceTypeTool, "stat2")
	r.Register(a)
	r.Register(b)
	r.UpdateState(a.ID, Running("x", time.Now(), nil), "go")

	stats := r.GetStats()
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Running)
	require.Equal(t, 1, stats.Idle)
}

func TestStateRegistryClear(t *testing.T) {
	r := NewStateRegistry(nil)
	inst := newTestInstance(ResourceTypeAgent, "a6")
	r.Register(inst)
	r.UpdateState(inst.ID, Running("x", time.Now(), nil), "go")

	r.Clear()
	require.Equal(t, 0, r.Count())
	require.Empty(t, r.GetGlobalHistory())
}
