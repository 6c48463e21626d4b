package multipart

import (
	"context"
	"encoding/hex"

	"lukechampine.com/blake3"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/kvstore"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
)

// Manager tracks in-progress multipart uploads: the lease lives in
// kvstore, the shard bytes live in a local Cache, and completion is the
// point where the two are reconciled against the declared hash.
type Manager struct {
	store *kvstore.MultipartStore
	cache *Cache
}

// New builds a Manager over an existing MultipartStore and Cache.
func New(store *kvstore.MultipartStore, cache *Cache) *Manager {
	return &Manager{store: store, cache: cache}
}

// Create reserves an upload lease for metaID. A second Create for the same
// metaID while one is already in progress is a conflict, including a retry
// that names the exact same hash (reported as ConflictedID).
func (m *Manager) Create(ctx context.Context, metaID, hash string, algo domain.HashAlgorithm, partCount int) error {
	existing, ok, err := m.store.Get(metaID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to read multipart lease", err)
	}
	if ok {
		if existing.Hash != hash {
			return errs.NewConflictedHash(metaID, hash)
		}
		return errs.NewConflictedID(metaID)
	}

	mp := domain.Multipart{
		MetaID:        metaID,
		Hash:          hash,
		HashAlgorithm: algo,
		PartCount:     partCount,
		Shards:        make(map[int]bool, partCount),
	}
	if err := m.store.Put(mp); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist multipart lease", err)
	}
	return nil
}

// CompletePart stages one shard. Once every shard named by PartCount has
// landed, it concatenates them in declaration order, verifies the result
// against the lease's hash, and returns the assembled bytes with done=true.
// The caller is responsible for handing the assembled bytes to the file
// move pipeline; CompletePart itself only owns the staging area.
func (m *Manager) CompletePart(ctx context.Context, metaID string, nth int, data []byte) ([]byte, bool, error) {
	mp, ok, err := m.store.Get(metaID)
	if err != nil {
		return nil, false, errs.Wrap(errs.Transient, "failed to read multipart lease", err)
	}
	if !ok {
		return nil, false, errs.NewMultipartNotFound(metaID)
	}
	if nth < 0 || nth >= mp.PartCount {
		return nil, false, errs.NewNoSuchPart(metaID, nth)
	}

	if err := m.cache.WritePart(metaID, nth, data); err != nil {
		return nil, false, errs.Wrap(errs.Transient, "failed to stage multipart shard", err)
	}

	if mp.Shards == nil {
		mp.Shards = make(map[int]bool, mp.PartCount)
	}
	mp.Shards[nth] = true
	if err := m.store.Put(mp); err != nil {
		return nil, false, errs.Wrap(errs.Transient, "failed to persist multipart lease", err)
	}

	if len(mp.MissingParts()) > 0 {
		return nil, false, nil
	}

	assembled, err := m.cache.Concatenate(metaID, mp.PartCount)
	if err != nil {
		return nil, false, errs.Wrap(errs.Transient, "failed to concatenate multipart shards", err)
	}

	sum := blake3Hex(assembled)
	if mp.Hash != "" && sum != mp.Hash {
		metrics.MultipartCompletionsTotal.WithLabelValues("hash_mismatch").Inc()
		return nil, false, errs.NewUnmatchedHash(mp.Hash, sum)
	}

	metrics.MultipartCompletionsTotal.WithLabelValues("success").Inc()
	_ = m.cache.Remove(metaID)
	_ = m.store.Delete(metaID)
	logx.WithComponent("multipart").Info().Str("meta_id", metaID).Int("part_count", mp.PartCount).Msg("multipart upload completed")
	return assembled, true, nil
}

// Abort discards an in-progress upload's lease and staged bytes.
func (m *Manager) Abort(ctx context.Context, metaID string) error {
	_ = m.cache.Remove(metaID)
	if err := m.store.Delete(metaID); err != nil {
		return errs.Wrap(errs.Transient, "failed to delete multipart lease", err)
	}
	return nil
}

func blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
