package supervisor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	err := NewError(ErrNotFound, "resource agent:a1 not found", nil)
	require.True(t, errors.Is(err, ErrNotFoundSentinel))
	require.False(t, errors.Is(err, ErrAlreadyExistsSentinel))
}

func TestErrorIsMatchesThroughWrapping(t *testing.T) {
	err := NewError(ErrStorageFailed, "save failed", fmt.Errorf("disk full"))
	wrapped := fmt.Errorf("spawn failed: %w", err)
	require.True(t, errors.Is(wrapped, ErrStorageFailedSentinel))
}

func TestErrorUnwrapReachesCause(t *testing.T) {
	cause := fmt.Errorf("constraint violation")
	err := NewError(ErrStorageFailed, "save failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorErrorStringWithAndWithoutCause(t *testing.T) {
	withCause := NewError(ErrHandlerFailed, "start failed", fmt.Errorf("boom"))
	require.Contains(t, withCause.Error(), "handler_failed")
	require.Contains(t, withCause.Error(), "boom")

	withoutCause := NewError(ErrNotFound, "missing", nil)
	require.NotContains(t, withoutCause.Error(), "<nil>")
}

func TestKindOfExtractsKind(t *testing.T) {
	err := NewError(ErrTimeout, "deadline exceeded", nil)
	require.Equal(t, ErrTimeout, KindOf(err))
}

func TestKindOfUnrecognizedErrorIsInternal(t *testing.T) {
	require.Equal(t, ErrInternal, KindOf(fmt.Errorf("some plain error")))
}

func TestKindOfNilIsInternal(t *testing.T) {
	require.Equal(t, ErrInternal, KindOf(nil))
}
