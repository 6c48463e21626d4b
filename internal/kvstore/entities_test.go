package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/repo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMultipartStorePutGetDelete(t *testing.T) {
	s := openTestStore(t)
	mp := domain.Multipart{MetaID: "meta-1", Hash: "abc", PartCount: 3, Shards: map[int]bool{0: true}}
	require.NoError(t, s.Multiparts().Put(mp))

	got, ok, err := s.Multiparts().Get("meta-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mp.Hash, got.Hash)
	assert.Equal(t, mp.PartCount, got.PartCount)

	require.NoError(t, s.Multiparts().Delete("meta-1"))
	_, ok, err = s.Multiparts().Get("meta-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMoveRegistrationStoreExpiresAfterTTL(t *testing.T) {
	s := openTestStore(t)
	reg := domain.MoveRegistration{ID: "reg-1", UserID: "user-1", FileName: "a.txt"}
	require.NoError(t, s.MoveRegistrations().Put(reg, 10*time.Millisecond))

	_, ok, err := s.MoveRegistrations().Get("reg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok, err = s.MoveRegistrations().Get("reg-1")
	require.NoError(t, err)
	assert.False(t, ok, "expired registration should read back as absent")
}

func TestSweepRemovesExpiredEntriesAcrossBuckets(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MoveRegistrations().Put(domain.MoveRegistration{ID: "reg-1"}, time.Millisecond))
	require.NoError(t, s.WsReqInfos().Put(domain.WsReqInfo{RequestID: "req-1", SessionID: "sess-1"}, time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Sweep())

	_, ok, err := s.MoveRegistrations().Get("reg-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.WsReqInfos().Get("req-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotStoreFindNarrowsByPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snaps := s.Snapshots()

	require.NoError(t, snaps.Create(ctx, &domain.Snapshot{ID: "s1", MetaID: "meta-1", NodeID: "node-1", FileID: "a.txt"}))
	require.NoError(t, snaps.Create(ctx, &domain.Snapshot{ID: "s2", MetaID: "meta-1", NodeID: "node-2", FileID: "b.txt"}))
	require.NoError(t, snaps.Create(ctx, &domain.Snapshot{ID: "s3", MetaID: "meta-2", NodeID: "node-1", FileID: "c.txt"}))

	byMeta, err := snaps.Find(ctx, repo.SnapshotFilter{MetaID: "meta-1"})
	require.NoError(t, err)
	assert.Len(t, byMeta, 2)

	byNode, err := snaps.Find(ctx, repo.SnapshotFilter{MetaID: "meta-1", NodeID: "node-1"})
	require.NoError(t, err)
	require.Len(t, byNode, 1)
	assert.Equal(t, "s1", byNode[0].ID)
}

func TestSnapshotStoreDeleteByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snaps := s.Snapshots()
	require.NoError(t, snaps.Create(ctx, &domain.Snapshot{ID: "s1", MetaID: "meta-1", NodeID: "node-1", FileID: "a.txt"}))

	require.NoError(t, snaps.Delete(ctx, "s1"))

	found, err := snaps.Find(ctx, repo.SnapshotFilter{MetaID: "meta-1"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestTextStorageStorePutGet(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.TextStorages().Put(domain.TextStorage{Key: "k1", Value: "hello"}))

	got, ok, err := s.TextStorages().Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Value)

	_, ok, err = s.TextStorages().Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
