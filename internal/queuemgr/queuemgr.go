package queuemgr

import (
	"context"
	"math/rand"
	"sync"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
	"github.com/cuemby/cos/internal/repo"
)

// Manager is the Queue Resource Manager. It owns one QueueCacheInfo per
// queue, guarded by a single mutex (Warren's reconciler serialises all
// cache mutation behind one lock too; per-queue usage counts are small and
// contention is not a bottleneck at COS's target scale).
type Manager struct {
	mu     sync.Mutex
	queues repo.QueueRepo
	cache  map[string]*domain.QueueCacheInfo
}

// New builds a Manager over the given queue repository.
func New(queues repo.QueueRepo) *Manager {
	return &Manager{queues: queues, cache: make(map[string]*domain.QueueCacheInfo)}
}

func (m *Manager) cacheFor(queueID string) *domain.QueueCacheInfo {
	c, ok := m.cache[queueID]
	if !ok {
		c = &domain.QueueCacheInfo{QueueID: queueID}
		m.cache[queueID] = c
	}
	return c
}

// Usage returns a snapshot of the current resource cache for queueID, for
// callers (cosctl queue list) that only want to read it.
func (m *Manager) Usage(queueID string) domain.QueueCacheInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.cacheFor(queueID)
}

// Admit picks a queue for need per req's selector: Manual/Preferred
// narrow to the given ids (Preferred falls back to Auto's full enabled set
// if none of the preferred ids currently fit); Auto considers every enabled
// queue. Among queues whose every axis has headroom for need, one is chosen
// uniformly at random (the Open Question recorded in the grounding ledger).
// Returns an errs.Invalid error if no queue admits the request.
func (m *Manager) Admit(ctx context.Context, sel domain.QueueSelector, need domain.ResourceRequest) (*domain.Queue, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AdmissionLatency)

	enabled, err := m.queues.ListEnabled(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "failed to list enabled queues", err)
	}

	candidates := narrowBySelector(enabled, sel)

	m.mu.Lock()
	defer m.mu.Unlock()

	var fit []*domain.Queue
	for _, q := range candidates {
		if m.fits(*q, need) {
			fit = append(fit, q)
		}
	}

	// Preferred falls back to the full enabled set when none of the
	// preferred queues currently fit.
	if len(fit) == 0 && sel.Kind == domain.QueueSelectPreferred {
		for _, q := range enabled {
			if m.fits(*q, need) {
				fit = append(fit, q)
			}
		}
	}

	if len(fit) == 0 {
		metrics.AdmissionRejected.Inc()
		return nil, errs.NewInvalid("no queue has capacity for the requested resources")
	}

	chosen := fit[rand.Intn(len(fit))]
	return chosen, nil
}

func narrowBySelector(enabled []*domain.Queue, sel domain.QueueSelector) []*domain.Queue {
	if sel.Kind == domain.QueueSelectAuto || len(sel.QueueID) == 0 {
		return enabled
	}

	want := make(map[string]bool, len(sel.QueueID))
	for _, id := range sel.QueueID {
		want[id] = true
	}

	var out []*domain.Queue
	for _, q := range enabled {
		if want[q.ID] {
			out = append(out, q)
		}
	}
	return out
}

func (m *Manager) fits(q domain.Queue, need domain.ResourceRequest) bool {
	c := m.cacheFor(q.ID)
	memory, cores, storage, nodes := c.Available(q)
	return memory-need.MemoryBytes >= 0 &&
		cores-need.CoreCount >= 0 &&
		storage-need.StorageBytes >= 0 &&
		nodes-need.NodeCount >= 0
}

// Reserve records need against queueID's cache when a Task is admitted into
// Queuing, and bumps the queuing task count (MarkRunning later moves it to
// running).
func (m *Manager) Reserve(queueID string, need domain.ResourceRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.cacheFor(queueID)
	c.UsedMemory += need.MemoryBytes
	c.UsedCore += need.CoreCount
	c.UsedStorage += need.StorageBytes
	c.UsedNode += need.NodeCount
	c.QueuingCount++

	m.publishGauges(queueID, c)
}

// MarkRunning moves a reservation from queuing to running on Queuing→Running.
func (m *Manager) MarkRunning(queueID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.cacheFor(queueID)
	if c.QueuingCount > 0 {
		c.QueuingCount--
	}
	c.RunningCount++
}

// Release returns need to queueID's cache on any terminal Task status
// (Completed/Failed/Terminated), saturating at zero so a reconciliation race
// can never drive a counter negative. It decrements whichever count (running
// then queuing) the task was occupying; a task that never left Queuing never
// touched RunningCount, so that's the correct order to check.
func (m *Manager) Release(queueID string, need domain.ResourceRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.cacheFor(queueID)
	c.UsedMemory = satSub(c.UsedMemory, need.MemoryBytes)
	c.UsedCore = int(satSub(int64(c.UsedCore), int64(need.CoreCount)))
	c.UsedStorage = satSub(c.UsedStorage, need.StorageBytes)
	c.UsedNode = int(satSub(int64(c.UsedNode), int64(need.NodeCount)))

	switch {
	case c.RunningCount > 0:
		c.RunningCount--
	case c.QueuingCount > 0:
		c.QueuingCount--
	}

	m.publishGauges(queueID, c)
}

func satSub(a, b int64) int64 {
	r := a - b
	if r < 0 {
		return 0
	}
	return r
}

// Reconcile overwrites queueID's cache with an agent's self-reported usage,
// the periodic correction for drift between COS's bookkeeping and what the
// remote Slurm/PBS queue actually has allocated.
func (m *Manager) Reconcile(queueID string, reported domain.QueueCacheInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reported.QueueID = queueID
	m.cache[queueID] = &reported
	m.publishGauges(queueID, &reported)

	logx.WithQueue(queueID).Debug().
		Int64("used_memory", reported.UsedMemory).
		Int("used_cores", reported.UsedCore).
		Msg("queue cache reconciled from agent report")
}

func (m *Manager) publishGauges(queueID string, c *domain.QueueCacheInfo) {
	metrics.QueueUsedMemory.WithLabelValues(queueID).Set(float64(c.UsedMemory))
	metrics.QueueUsedCores.WithLabelValues(queueID).Set(float64(c.UsedCore))
}
