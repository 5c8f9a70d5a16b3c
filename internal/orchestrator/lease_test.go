package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invalidated(l *PollLease) bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}

func TestLeaseAcquireInvalidatesPrevious(t *testing.T) {
	arena := NewLeaseArena()

	first := arena.Acquire(context.Background(), "remote-1")
	require.False(t, invalidated(first))

	second := arena.Acquire(context.Background(), "remote-1")

	assert.True(t, invalidated(first))
	assert.False(t, invalidated(second))
	assert.True(t, arena.Active("remote-1"))
}

func TestLeaseInvalidate(t *testing.T) {
	arena := NewLeaseArena()
	lease := arena.Acquire(context.Background(), "remote-1")

	arena.Invalidate("remote-1")

	assert.True(t, invalidated(lease))
	assert.False(t, arena.Active("remote-1"))

	// unknown IDs are a no-op
	arena.Invalidate("remote-99")
}

func TestLeaseReleaseLeavesNewerLeaseIntact(t *testing.T) {
	arena := NewLeaseArena()

	old := arena.Acquire(context.Background(), "remote-1")
	current := arena.Acquire(context.Background(), "remote-1")

	// the superseded loop releasing on exit must not tear down the
	// newer lease
	arena.Release(old)

	assert.False(t, invalidated(current))
	assert.True(t, arena.Active("remote-1"))

	arena.Release(current)
	assert.False(t, arena.Active("remote-1"))
}

func TestLeaseSeparateJobsIndependent(t *testing.T) {
	arena := NewLeaseArena()

	a := arena.Acquire(context.Background(), "remote-1")
	b := arena.Acquire(context.Background(), "remote-2")

	arena.Invalidate("remote-1")

	assert.True(t, invalidated(a))
	assert.False(t, invalidated(b))
}

func TestLeaseInvalidateAll(t *testing.T) {
	arena := NewLeaseArena()

	a := arena.Acquire(context.Background(), "remote-1")
	b := arena.Acquire(context.Background(), "remote-2")

	arena.InvalidateAll()

	assert.True(t, invalidated(a))
	assert.True(t, invalidated(b))
	assert.False(t, arena.Active("remote-1"))
	assert.False(t, arena.Active("remote-2"))
}

func TestLeaseParentContextCancellation(t *testing.T) {
	arena := NewLeaseArena()
	ctx, cancel := context.WithCancel(context.Background())

	lease := arena.Acquire(ctx, "remote-1")
	cancel()

	assert.True(t, invalidated(lease))
	assert.False(t, arena.Active("remote-1"))
}
