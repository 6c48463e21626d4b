package queuemgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/repo"
)

func TestSweepIgnoresQueuesThatReportedWithinInterval(t *testing.T) {
	store := repo.NewMemoryStore()
	require.NoError(t, store.CreateQueue(context.Background(), &domain.Queue{
		ID: "gpu", TopicName: "gpu-topic", Enabled: true, LastHeartbeat: time.Now(),
	}))

	h := NewHeartbeatMonitor(store.Queues(), time.Minute, 3)
	require.NoError(t, h.Sweep(context.Background()))

	q, err := store.Queues().Get(context.Background(), "gpu")
	require.NoError(t, err)
	assert.True(t, q.Enabled)
	assert.Equal(t, 0, q.MissedHeartbeat)
}

func TestSweepIncrementsMissCountOnStaleQueue(t *testing.T) {
	store := repo.NewMemoryStore()
	require.NoError(t, store.CreateQueue(context.Background(), &domain.Queue{
		ID: "gpu", TopicName: "gpu-topic", Enabled: true, LastHeartbeat: time.Now().Add(-time.Hour),
	}))

	h := NewHeartbeatMonitor(store.Queues(), time.Minute, 3)
	require.NoError(t, h.Sweep(context.Background()))

	q, err := store.Queues().Get(context.Background(), "gpu")
	require.NoError(t, err)
	assert.True(t, q.Enabled)
	assert.Equal(t, 1, q.MissedHeartbeat)
}

func TestSweepDisablesQueueAfterReachingLimit(t *testing.T) {
	store := repo.NewMemoryStore()
	require.NoError(t, store.CreateQueue(context.Background(), &domain.Queue{
		ID: "gpu", TopicName: "gpu-topic", Enabled: true, LastHeartbeat: time.Now().Add(-time.Hour), MissedHeartbeat: 2,
	}))

	h := NewHeartbeatMonitor(store.Queues(), time.Minute, 3)
	require.NoError(t, h.Sweep(context.Background()))

	q, err := store.Queues().Get(context.Background(), "gpu")
	require.NoError(t, err)
	assert.False(t, q.Enabled)
	assert.Equal(t, 3, q.MissedHeartbeat)
}

func TestSweepSkipsAlreadyDisabledQueues(t *testing.T) {
	store := repo.NewMemoryStore()
	require.NoError(t, store.CreateQueue(context.Background(), &domain.Queue{
		ID: "gpu", TopicName: "gpu-topic", Enabled: false, LastHeartbeat: time.Now().Add(-time.Hour),
	}))

	h := NewHeartbeatMonitor(store.Queues(), time.Minute, 3)
	require.NoError(t, h.Sweep(context.Background()))

	q, err := store.Queues().Get(context.Background(), "gpu")
	require.NoError(t, err)
	assert.Equal(t, 0, q.MissedHeartbeat, "ListEnabled should not surface an already-disabled queue")
}

func TestNewHeartbeatMonitorDefaultsLimit(t *testing.T) {
	store := repo.NewMemoryStore()
	h := NewHeartbeatMonitor(store.Queues(), time.Minute, 0)
	assert.Equal(t, 3, h.limit)
}
