package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vc/internal/supervisor"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadActiveInstances(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	id := supervisor.NewResourceId(supervisor.ResourceTypeAgent, "agent-1")
	instance := supervisor.ResourceInstance{
		ID:           id,
		ResourceType: supervisor.ResourceTypeAgent,
		State:        supervisor.Running("working", time.Now(), nil),
		CreatedAt:    time.Now(),
	}

	require.NoError(t, s.SaveInstance(ctx, instance))

	loaded, err := s.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.True(t, loaded[0].ID.Equal(id))
	require.Equal(t, supervisor.StateRunning, loaded[0].State.Kind)
}

func TestLoadActiveInstancesSkipsTerminal(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	id := supervisor.NewResourceId(supervisor.ResourceTypeTool, "tool-1")
	instance := supervisor.ResourceInstance{
		ID:           id,
		ResourceType: supervisor.ResourceTypeTool,
		State:        supervisor.Completed(time.Now(), nil),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.SaveInstance(ctx, instance))

	loaded, err := s.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestRemoveInstance(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	id := supervisor.NewResourceId(supervisor.ResourceTypeChannel, "chan-1")
	instance := supervisor.ResourceInstance{
		ID:           id,
		ResourceType: supervisor.ResourceTypeChannel,
		State:        supervisor.Idle(),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.SaveInstance(ctx, instance))
	require.NoError(t, s.RemoveInstance(ctx, id))

	loaded, err := s.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestRecordTransition(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	id := supervisor.NewResourceId(supervisor.ResourceTypeAgent, "agent-2")
	transition := supervisor.StateTransition{
		ResourceID: id,
		FromState:  supervisor.Idle(),
		ToState:    supervisor.Running("starting", time.Now(), nil),
		Timestamp:  time.Now(),
		Reason:     "spawned",
	}
	require.NoError(t, s.RecordTransition(ctx, transition, "starting"))

	var reason string
	row := s.db.QueryRowContext(ctx, `SELECT reason FROM transitions WHERE resource_id = ?`, id.String())
	require.NoError(t, row.Scan(&reason))
	require.Equal(t, "spawned", reason)
}

func TestSaveInstanceUpserts(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	id := supervisor.NewResourceId(supervisor.ResourceTypeAgent, "agent-3")
	instance := supervisor.ResourceInstance{
		ID:           id,
		ResourceType: supervisor.ResourceTypeAgent,
		State:        supervisor.Idle(),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.SaveInstance(ctx, instance))

	instance.State = supervisor.Running("working", time.Now(), nil)
	instance.RecoveryAttempts = 2
	require.NoError(t, s.SaveInstance(ctx, instance))

	loaded, err := s.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, uint32(2), loaded[0].RecoveryAttempts)
}
