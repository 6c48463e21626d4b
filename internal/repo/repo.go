// Package repo declares the repository contracts the schedule engine,
// compiler, and file move pipeline are written against. The relational
// store behind WorkflowDraftRepo/WorkflowInstanceRepo/... and the
// content-repository/object-storage clients behind PackageRepo/
// StorageBroker are external collaborators — this package only fixes
// their Go-level shape. internal/repo/memory.go supplies an
// in-memory implementation used by tests and by cmd/cosctl's standalone
// ("embedded") mode.
package repo

import (
	"context"

	"github.com/cuemby/cos/internal/domain"
)

// WorkflowDraftRepo is the abstract persistence contract for drafts.
type WorkflowDraftRepo interface {
	Create(ctx context.Context, d *domain.WorkflowDraft) error
	Get(ctx context.Context, id string) (*domain.WorkflowDraft, error)
}

// WorkflowInstanceRepo is the abstract persistence contract for instances.
// UpdateWithLock implements an optimistic-concurrency contract: the caller
// supplies the LastModifiedTime it last observed, and the repo rejects
// (ErrConflict) if it no longer matches, so the schedule engine can
// re-read and re-apply the transition idempotently.
type WorkflowInstanceRepo interface {
	Create(ctx context.Context, wi *domain.WorkflowInstance) error
	Get(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	UpdateWithLock(ctx context.Context, wi *domain.WorkflowInstance, observedLastModified int64) error
	List(ctx context.Context, userID string) ([]*domain.WorkflowInstance, error)
}

// ErrConflict is returned by UpdateWithLock when observedLastModified no
// longer matches the stored value.
var ErrConflict = newSentinel("optimistic lock conflict")

type sentinelErr string

func newSentinel(s string) error { return sentinelErr(s) }
func (e sentinelErr) Error() string { return string(e) }

// NodeInstanceRepo is the abstract persistence contract for node instances.
type NodeInstanceRepo interface {
	Create(ctx context.Context, n *domain.NodeInstance) error
	Get(ctx context.Context, id string) (*domain.NodeInstance, error)
	Update(ctx context.Context, n *domain.NodeInstance) error
	ListByFlow(ctx context.Context, flowInstanceID string) ([]*domain.NodeInstance, error)
}

// TaskRepo is the abstract persistence contract for tasks.
type TaskRepo interface {
	Create(ctx context.Context, t *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	Update(ctx context.Context, t *domain.Task) error
	ListByNode(ctx context.Context, nodeInstanceID string) ([]*domain.Task, error)
}

// QueueRepo is the abstract persistence contract for queues.
type QueueRepo interface {
	Create(ctx context.Context, q *domain.Queue) error
	Get(ctx context.Context, id string) (*domain.Queue, error)
	Update(ctx context.Context, q *domain.Queue) error
	ListEnabled(ctx context.Context) ([]*domain.Queue, error)
}

// FileMetaRepo is the abstract persistence contract for file identities.
type FileMetaRepo interface {
	Create(ctx context.Context, m *domain.FileMeta) error
	Get(ctx context.Context, id string) (*domain.FileMeta, error)
	GetByHashAndAlgorithm(ctx context.Context, hash string, algo domain.HashAlgorithm) (*domain.FileMeta, error)
}

// FileStorageRepo is the abstract persistence contract for storage bindings.
type FileStorageRepo interface {
	Create(ctx context.Context, fs *domain.FileStorage) error
	ListByMeta(ctx context.Context, metaID string) ([]*domain.FileStorage, error)
}

// NetDiskRepo is the abstract persistence contract for net-disk entries.
type NetDiskRepo interface {
	Upsert(ctx context.Context, e *domain.NetDiskEntry) error
	GetByParentAndName(ctx context.Context, parentID, name string) (*domain.NetDiskEntry, error)
}

// SnapshotRepo is the abstract persistence contract for snapshots. Find
// narrows by any non-empty subset of the fields in the filter.
type SnapshotRepo interface {
	Create(ctx context.Context, s *domain.Snapshot) error
	Find(ctx context.Context, filter SnapshotFilter) ([]*domain.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// SnapshotFilter narrows a snapshot search; zero-value fields are wildcards.
type SnapshotFilter struct {
	MetaID string
	NodeID string
	FileID string
}

// PackageRepo is the out-of-core content-repository client contract: it
// resolves software/usecase package ids to parsed manifests.
type PackageRepo interface {
	GetSoftwarePackage(ctx context.Context, id string) (*PackageManifest, error)
	GetUsecasePackage(ctx context.Context, id string) (*PackageManifest, error)
}

// PackageManifest is the parsed shape of a content-repository package; the
// GraphQL client that produces it is external to this package.
type PackageManifest struct {
	ID          string
	Name        string
	Command     string
	InputFiles  []string
	OutputFiles []string
}

// StorageBroker is the out-of-core object-storage client contract used by
// the file move pipeline's Execute step.
type StorageBroker interface {
	Upload(ctx context.Context, serverURL string, key string, data []byte) error
	ReadRange(ctx context.Context, serverURL string, key string, offset, length int64) ([]byte, error)
}
