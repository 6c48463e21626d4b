package repo

import (
	"context"
	"sync"

	"github.com/cuemby/cos/internal/domain"
)

// MemoryStore is an in-memory stand-in for the relational persistence layer
// (WorkflowDraft/WorkflowInstance/NodeInstance/Task/Queue/FileMeta/
// FileStorage/NetDisk), mirroring Warren's BoltStore: one guarded map per
// entity, JSON-free because everything already lives in Go memory.
// Used by cmd/cosctl's standalone mode and by every package's tests; a
// production deployment swaps this for a real SQL-backed implementation of
// the same interfaces without the schedule engine noticing.
type MemoryStore struct {
	mu sync.RWMutex

	drafts    map[string]*domain.WorkflowDraft
	instances map[string]*domain.WorkflowInstance
	nodes     map[string]*domain.NodeInstance
	tasks     map[string]*domain.Task
	queues    map[string]*domain.Queue
	metas     map[string]*domain.FileMeta
	metasByHash map[string]*domain.FileMeta
	storages  map[string][]*domain.FileStorage
	netdisk   map[string]*domain.NetDiskEntry // key: parentID + "/" + name
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:      make(map[string]*domain.WorkflowDraft),
		instances:   make(map[string]*domain.WorkflowInstance),
		nodes:       make(map[string]*domain.NodeInstance),
		tasks:       make(map[string]*domain.Task),
		queues:      make(map[string]*domain.Queue),
		metas:       make(map[string]*domain.FileMeta),
		metasByHash: make(map[string]*domain.FileMeta),
		storages:    make(map[string][]*domain.FileStorage),
		netdisk:     make(map[string]*domain.NetDiskEntry),
	}
}

// --- WorkflowDraftRepo ---

func (s *MemoryStore) Create(ctx context.Context, d *domain.WorkflowDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.drafts[d.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.WorkflowDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// ErrNotFound is returned by memory repo lookups that miss.
var ErrNotFound = newSentinel("not found")

// --- WorkflowInstanceRepo ---

func (s *MemoryStore) CreateInstance(ctx context.Context, wi *domain.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wi
	s.instances[wi.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wi, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wi
	return &cp, nil
}

func (s *MemoryStore) UpdateInstanceWithLock(ctx context.Context, wi *domain.WorkflowInstance, observedLastModified int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.instances[wi.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.LastModifiedTime != observedLastModified {
		return ErrConflict
	}
	cp := *wi
	cp.LastModifiedTime = observedLastModified + 1
	s.instances[wi.ID] = &cp
	wi.LastModifiedTime = cp.LastModifiedTime
	return nil
}

func (s *MemoryStore) ListInstances(ctx context.Context, userID string) ([]*domain.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.WorkflowInstance
	for _, wi := range s.instances {
		if userID == "" || wi.UserID == userID {
			cp := *wi
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- NodeInstanceRepo ---

func (s *MemoryStore) CreateNode(ctx context.Context, n *domain.NodeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.nodes[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (*domain.NodeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) UpdateNode(ctx context.Context, n *domain.NodeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; !ok {
		return ErrNotFound
	}
	cp := *n
	s.nodes[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListNodesByFlow(ctx context.Context, flowInstanceID string) ([]*domain.NodeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.NodeInstance
	for _, n := range s.nodes {
		if n.FlowInstanceID == flowInstanceID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- TaskRepo ---

func (s *MemoryStore) CreateTask(ctx context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) ListTasksByNode(ctx context.Context, nodeInstanceID string) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.NodeInstanceID == nodeInstanceID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- QueueRepo ---

func (s *MemoryStore) CreateQueue(ctx context.Context, q *domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.queues[q.ID] = &cp
	return nil
}

func (s *MemoryStore) GetQueue(ctx context.Context, id string) (*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) UpdateQueue(ctx context.Context, q *domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[q.ID]; !ok {
		return ErrNotFound
	}
	cp := *q
	s.queues[q.ID] = &cp
	return nil
}

func (s *MemoryStore) ListEnabledQueues(ctx context.Context) ([]*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Queue
	for _, q := range s.queues {
		if q.Enabled {
			cp := *q
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- FileMetaRepo / FileStorageRepo ---

func (s *MemoryStore) CreateFileMeta(ctx context.Context, m *domain.FileMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.metas[m.ID] = &cp
	s.metasByHash[string(m.HashAlgorithm)+"/"+m.Hash] = &cp
	return nil
}

func (s *MemoryStore) GetFileMeta(ctx context.Context, id string) (*domain.FileMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metas[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetFileMetaByHashAndAlgorithm(ctx context.Context, hash string, algo domain.HashAlgorithm) (*domain.FileMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metasByHash[string(algo)+"/"+hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) CreateFileStorage(ctx context.Context, fs *domain.FileStorage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fs
	s.storages[fs.MetaID] = append(s.storages[fs.MetaID], &cp)
	return nil
}

func (s *MemoryStore) ListFileStorageByMeta(ctx context.Context, metaID string) ([]*domain.FileStorage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.FileStorage, len(s.storages[metaID]))
	copy(out, s.storages[metaID])
	return out, nil
}

// --- NetDiskRepo ---

func netDiskKey(parentID, name string) string { return parentID + "/" + name }

func (s *MemoryStore) UpsertNetDisk(ctx context.Context, e *domain.NetDiskEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.netdisk[netDiskKey(e.ParentID, e.Name)] = &cp
	return nil
}

func (s *MemoryStore) GetNetDiskByParentAndName(ctx context.Context, parentID, name string) (*domain.NetDiskEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.netdisk[netDiskKey(parentID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// Go forbids overloading a method name by parameter type, so MemoryStore
// gives each entity its own verb (CreateInstance, CreateTask, ...). The
// thin adapters below re-expose those under the plain Create/Get/Update/List
// names each repo interface actually declares.

type draftRepo struct{ s *MemoryStore }

// Drafts returns a WorkflowDraftRepo backed by s.
func (s *MemoryStore) Drafts() WorkflowDraftRepo { return draftRepo{s} }

func (r draftRepo) Create(ctx context.Context, d *domain.WorkflowDraft) error { return r.s.Create(ctx, d) }
func (r draftRepo) Get(ctx context.Context, id string) (*domain.WorkflowDraft, error) {
	return r.s.Get(ctx, id)
}

type instanceRepo struct{ s *MemoryStore }

// Instances returns a WorkflowInstanceRepo backed by s.
func (s *MemoryStore) Instances() WorkflowInstanceRepo { return instanceRepo{s} }

func (r instanceRepo) Create(ctx context.Context, wi *domain.WorkflowInstance) error {
	return r.s.CreateInstance(ctx, wi)
}
func (r instanceRepo) Get(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	return r.s.GetInstance(ctx, id)
}
func (r instanceRepo) UpdateWithLock(ctx context.Context, wi *domain.WorkflowInstance, observedLastModified int64) error {
	return r.s.UpdateInstanceWithLock(ctx, wi, observedLastModified)
}
func (r instanceRepo) List(ctx context.Context, userID string) ([]*domain.WorkflowInstance, error) {
	return r.s.ListInstances(ctx, userID)
}

type nodeRepo struct{ s *MemoryStore }

// Nodes returns a NodeInstanceRepo backed by s.
func (s *MemoryStore) Nodes() NodeInstanceRepo { return nodeRepo{s} }

func (r nodeRepo) Create(ctx context.Context, n *domain.NodeInstance) error { return r.s.CreateNode(ctx, n) }
func (r nodeRepo) Get(ctx context.Context, id string) (*domain.NodeInstance, error) {
	return r.s.GetNode(ctx, id)
}
func (r nodeRepo) Update(ctx context.Context, n *domain.NodeInstance) error { return r.s.UpdateNode(ctx, n) }
func (r nodeRepo) ListByFlow(ctx context.Context, flowInstanceID string) ([]*domain.NodeInstance, error) {
	return r.s.ListNodesByFlow(ctx, flowInstanceID)
}

type taskRepo struct{ s *MemoryStore }

// Tasks returns a TaskRepo backed by s.
func (s *MemoryStore) Tasks() TaskRepo { return taskRepo{s} }

func (r taskRepo) Create(ctx context.Context, t *domain.Task) error { return r.s.CreateTask(ctx, t) }
func (r taskRepo) Get(ctx context.Context, id string) (*domain.Task, error) { return r.s.GetTask(ctx, id) }
func (r taskRepo) Update(ctx context.Context, t *domain.Task) error { return r.s.UpdateTask(ctx, t) }
func (r taskRepo) ListByNode(ctx context.Context, nodeInstanceID string) ([]*domain.Task, error) {
	return r.s.ListTasksByNode(ctx, nodeInstanceID)
}

type queueRepo struct{ s *MemoryStore }

// Queues returns a QueueRepo backed by s.
func (s *MemoryStore) Queues() QueueRepo { return queueRepo{s} }

func (r queueRepo) Create(ctx context.Context, q *domain.Queue) error { return r.s.CreateQueue(ctx, q) }
func (r queueRepo) Get(ctx context.Context, id string) (*domain.Queue, error) { return r.s.GetQueue(ctx, id) }
func (r queueRepo) Update(ctx context.Context, q *domain.Queue) error { return r.s.UpdateQueue(ctx, q) }
func (r queueRepo) ListEnabled(ctx context.Context) ([]*domain.Queue, error) {
	return r.s.ListEnabledQueues(ctx)
}

type fileMetaRepo struct{ s *MemoryStore }

// FileMetas returns a FileMetaRepo backed by s.
func (s *MemoryStore) FileMetas() FileMetaRepo { return fileMetaRepo{s} }

func (r fileMetaRepo) Create(ctx context.Context, m *domain.FileMeta) error {
	return r.s.CreateFileMeta(ctx, m)
}
func (r fileMetaRepo) Get(ctx context.Context, id string) (*domain.FileMeta, error) {
	return r.s.GetFileMeta(ctx, id)
}
func (r fileMetaRepo) GetByHashAndAlgorithm(ctx context.Context, hash string, algo domain.HashAlgorithm) (*domain.FileMeta, error) {
	return r.s.GetFileMetaByHashAndAlgorithm(ctx, hash, algo)
}

type fileStorageRepo struct{ s *MemoryStore }

// FileStorages returns a FileStorageRepo backed by s.
func (s *MemoryStore) FileStorages() FileStorageRepo { return fileStorageRepo{s} }

func (r fileStorageRepo) Create(ctx context.Context, fs *domain.FileStorage) error {
	return r.s.CreateFileStorage(ctx, fs)
}
func (r fileStorageRepo) ListByMeta(ctx context.Context, metaID string) ([]*domain.FileStorage, error) {
	return r.s.ListFileStorageByMeta(ctx, metaID)
}

type netDiskRepo struct{ s *MemoryStore }

// NetDisks returns a NetDiskRepo backed by s.
func (s *MemoryStore) NetDisks() NetDiskRepo { return netDiskRepo{s} }

func (r netDiskRepo) Upsert(ctx context.Context, e *domain.NetDiskEntry) error {
	return r.s.UpsertNetDisk(ctx, e)
}
func (r netDiskRepo) GetByParentAndName(ctx context.Context, parentID, name string) (*domain.NetDiskEntry, error) {
	return r.s.GetNetDiskByParentAndName(ctx, parentID, name)
}
