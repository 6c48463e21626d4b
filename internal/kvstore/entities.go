package kvstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/repo"
)

// MultipartStore persists domain.Multipart records, keyed by meta ID.
// Entries never expire on their own — internal/multipart evicts them
// explicitly once the last shard completes or the caller aborts.
type MultipartStore struct{ s *Store }

// Multiparts returns a MultipartStore backed by s.
func (s *Store) Multiparts() *MultipartStore { return &MultipartStore{s} }

func (m *MultipartStore) Put(mp domain.Multipart) error {
	return m.s.put(bucketMultipart, mp.MetaID, mp, 0)
}

func (m *MultipartStore) Get(metaID string) (domain.Multipart, bool, error) {
	var mp domain.Multipart
	ok, err := m.s.get(bucketMultipart, metaID, &mp)
	return mp, ok, err
}

func (m *MultipartStore) Delete(metaID string) error {
	return m.s.delete(bucketMultipart, metaID)
}

// MoveRegistrationStore persists domain.MoveRegistration records from the
// Register step of the file move pipeline, keyed by registration ID. TTL
// bounds how long a registration may sit unexecuted before Execute must be
// retried against a fresh Register call.
type MoveRegistrationStore struct{ s *Store }

// MoveRegistrations returns a MoveRegistrationStore backed by s.
func (s *Store) MoveRegistrations() *MoveRegistrationStore { return &MoveRegistrationStore{s} }

func (m *MoveRegistrationStore) Put(reg domain.MoveRegistration, ttl time.Duration) error {
	return m.s.put(bucketMoveReg, reg.ID, reg, ttl)
}

func (m *MoveRegistrationStore) Get(id string) (domain.MoveRegistration, bool, error) {
	var reg domain.MoveRegistration
	ok, err := m.s.get(bucketMoveReg, id, &reg)
	return reg, ok, err
}

func (m *MoveRegistrationStore) Delete(id string) error {
	return m.s.delete(bucketMoveReg, id)
}

// SnapshotStore implements repo.SnapshotRepo over the leased KV store. The
// key composes MetaID/NodeID/FileID so Find can prefix-scan by the leading
// non-empty fields of the filter; any other non-empty field is then matched
// exactly against each scanned snapshot.
type SnapshotStore struct{ s *Store }

// Snapshots returns a SnapshotStore backed by s.
func (s *Store) Snapshots() *SnapshotStore { return &SnapshotStore{s} }

var _ repo.SnapshotRepo = (*SnapshotStore)(nil)

func snapshotKey(metaID, nodeID, fileID string) string {
	return metaID + "/" + nodeID + "/" + fileID
}

func (sn *SnapshotStore) Create(ctx context.Context, snap *domain.Snapshot) error {
	key := snapshotKey(snap.MetaID, snap.NodeID, snap.FileID) + "/" + snap.ID
	return sn.s.put(bucketSnapshot, key, snap, 0)
}

func (sn *SnapshotStore) Find(ctx context.Context, filter repo.SnapshotFilter) ([]*domain.Snapshot, error) {
	prefix := ""
	if filter.MetaID != "" {
		prefix = filter.MetaID + "/"
		if filter.NodeID != "" {
			prefix += filter.NodeID + "/"
			if filter.FileID != "" {
				prefix += filter.FileID + "/"
			}
		}
	}

	raw, err := sn.s.scanPrefix(bucketSnapshot, prefix)
	if err != nil {
		return nil, err
	}

	var out []*domain.Snapshot
	for _, data := range raw {
		var snap domain.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, err
		}
		if (filter.NodeID != "" && snap.NodeID != filter.NodeID) || (filter.FileID != "" && snap.FileID != filter.FileID) {
			continue
		}
		out = append(out, &snap)
	}
	return out, nil
}

func (sn *SnapshotStore) Delete(ctx context.Context, id string) error {
	raw, err := sn.s.scanPrefix(bucketSnapshot, "")
	if err != nil {
		return err
	}
	for key, data := range raw {
		var snap domain.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		if snap.ID == id {
			return sn.s.delete(bucketSnapshot, key)
		}
	}
	return nil
}

// WsReqInfoStore correlates a streaming request id with the websocket
// session id relaying it, with a TTL so abandoned correlations self-clean.
type WsReqInfoStore struct{ s *Store }

// WsReqInfos returns a WsReqInfoStore backed by s.
func (s *Store) WsReqInfos() *WsReqInfoStore { return &WsReqInfoStore{s} }

func (w *WsReqInfoStore) Put(info domain.WsReqInfo, ttl time.Duration) error {
	return w.s.put(bucketWsReqInfo, info.RequestID, info, ttl)
}

func (w *WsReqInfoStore) Get(requestID string) (domain.WsReqInfo, bool, error) {
	var info domain.WsReqInfo
	ok, err := w.s.get(bucketWsReqInfo, requestID, &info)
	return info, ok, err
}

func (w *WsReqInfoStore) Delete(requestID string) error {
	return w.s.delete(bucketWsReqInfo, requestID)
}

// TextStorageStore deduplicates small inline text contents by key, used by
// the file move pipeline's text-slot path.
type TextStorageStore struct{ s *Store }

// TextStorages returns a TextStorageStore backed by s.
func (s *Store) TextStorages() *TextStorageStore { return &TextStorageStore{s} }

func (t *TextStorageStore) Put(ts domain.TextStorage) error {
	return t.s.put(bucketTextStore, ts.Key, ts, 0)
}

func (t *TextStorageStore) Get(key string) (domain.TextStorage, bool, error) {
	var ts domain.TextStorage
	ok, err := t.s.get(bucketTextStore, key, &ts)
	return ts, ok, err
}
