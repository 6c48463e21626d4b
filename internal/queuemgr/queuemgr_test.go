package queuemgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/repo"
)

func newTestManager(t *testing.T, queues ...domain.Queue) (*Manager, repo.QueueRepo) {
	t.Helper()
	store := repo.NewMemoryStore()
	for i := range queues {
		q := queues[i]
		require.NoError(t, store.CreateQueue(context.Background(), &q))
	}
	return New(store.Queues()), store.Queues()
}

func TestAdmit(t *testing.T) {
	small := domain.Queue{ID: "small", TopicName: "small", Enabled: true, MemoryBytes: 1024, CoreNumber: 2, StorageBytes: 1024, NodeCount: 1}
	large := domain.Queue{ID: "large", TopicName: "large", Enabled: true, MemoryBytes: 1 << 30, CoreNumber: 64, StorageBytes: 1 << 30, NodeCount: 8}

	tests := []struct {
		name    string
		queues  []domain.Queue
		sel     domain.QueueSelector
		need    domain.ResourceRequest
		wantID  string
		wantErr bool
	}{
		{
			name:   "auto picks the only queue with headroom",
			queues: []domain.Queue{small, large},
			sel:    domain.QueueSelector{Kind: domain.QueueSelectAuto},
			need:   domain.ResourceRequest{MemoryBytes: 1 << 29, CoreCount: 32, StorageBytes: 1 << 29, NodeCount: 4},
			wantID: "large",
		},
		{
			name:    "auto rejects when nothing fits",
			queues:  []domain.Queue{small},
			sel:     domain.QueueSelector{Kind: domain.QueueSelectAuto},
			need:    domain.ResourceRequest{MemoryBytes: 1 << 40},
			wantErr: true,
		},
		{
			name:   "manual narrows to the named queue",
			queues: []domain.Queue{small, large},
			sel:    domain.QueueSelector{Kind: domain.QueueSelectManual, QueueID: []string{"small"}},
			need:   domain.ResourceRequest{MemoryBytes: 512, CoreCount: 1, StorageBytes: 512, NodeCount: 1},
			wantID: "small",
		},
		{
			name:    "manual rejects when the named queue has no headroom",
			queues:  []domain.Queue{small, large},
			sel:     domain.QueueSelector{Kind: domain.QueueSelectManual, QueueID: []string{"small"}},
			need:    domain.ResourceRequest{MemoryBytes: 1 << 29},
			wantErr: true,
		},
		{
			name:   "preferred falls back to the full enabled set",
			queues: []domain.Queue{small, large},
			sel:    domain.QueueSelector{Kind: domain.QueueSelectPreferred, QueueID: []string{"small"}},
			need:   domain.ResourceRequest{MemoryBytes: 1 << 29, CoreCount: 32, StorageBytes: 1 << 29, NodeCount: 4},
			wantID: "large",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mgr, _ := newTestManager(t, tc.queues...)
			q, err := mgr.Admit(context.Background(), tc.sel, tc.need)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, q.ID)
		})
	}
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	q := domain.Queue{ID: "q1", MemoryBytes: 1000, CoreNumber: 10, StorageBytes: 1000, NodeCount: 10, Enabled: true}
	mgr, _ := newTestManager(t, q)
	need := domain.ResourceRequest{MemoryBytes: 500, CoreCount: 5, StorageBytes: 500, NodeCount: 5}

	mgr.Reserve(q.ID, need)
	usage := mgr.Usage(q.ID)
	assert.Equal(t, int64(500), usage.UsedMemory)
	assert.Equal(t, 5, usage.UsedCore)
	assert.Equal(t, 1, usage.QueuingCount)

	mgr.MarkRunning(q.ID)
	usage = mgr.Usage(q.ID)
	assert.Equal(t, 0, usage.QueuingCount)
	assert.Equal(t, 1, usage.RunningCount)

	mgr.Release(q.ID, need)
	usage = mgr.Usage(q.ID)
	assert.Equal(t, int64(0), usage.UsedMemory)
	assert.Equal(t, 0, usage.UsedCore)
	assert.Equal(t, 0, usage.RunningCount)
}

func TestReleaseSaturatesAtZero(t *testing.T) {
	mgr, _ := newTestManager(t, domain.Queue{ID: "q1", Enabled: true})
	mgr.Release("q1", domain.ResourceRequest{MemoryBytes: 100, CoreCount: 1, StorageBytes: 100, NodeCount: 1})

	usage := mgr.Usage("q1")
	assert.Equal(t, int64(0), usage.UsedMemory)
	assert.Equal(t, 0, usage.UsedCore)
}

func TestReconcileOverwritesCache(t *testing.T) {
	mgr, _ := newTestManager(t, domain.Queue{ID: "q1", Enabled: true})
	mgr.Reserve("q1", domain.ResourceRequest{MemoryBytes: 100, CoreCount: 1})

	mgr.Reconcile("q1", domain.QueueCacheInfo{UsedMemory: 42, UsedCore: 7, RunningCount: 2})

	usage := mgr.Usage("q1")
	assert.Equal(t, int64(42), usage.UsedMemory)
	assert.Equal(t, 7, usage.UsedCore)
	assert.Equal(t, 2, usage.RunningCount)
}
