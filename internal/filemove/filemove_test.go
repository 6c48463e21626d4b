package filemove

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/kvstore"
	"github.com/cuemby/cos/internal/repo"
)

func newTestPipeline(t *testing.T) (*Pipeline, repo.NetDiskRepo) {
	t.Helper()

	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	broker, err := repo.NewLocalStorageBroker(t.TempDir())
	require.NoError(t, err)

	store := repo.NewMemoryStore()
	servers := []domain.StorageServer{{ID: "s1", Name: "s1", URL: "local"}}

	return New(store.FileMetas(), store.FileStorages(), store.NetDisks(), kv.Snapshots(), kv.MoveRegistrations(), broker, servers), store.NetDisks()
}

func TestRegisterThenExecuteSnapshot(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	data := []byte("hello world")

	dest := domain.MoveDestination{Kind: domain.DestinationSnapshot, NodeID: "node-1", FileID: "report.txt"}
	regID, err := p.Register(ctx, "user-1", "report.txt", "", domain.HashBlake3, int64(len(data)), dest)
	require.NoError(t, err)
	assert.NotEmpty(t, regID)

	err = p.Execute(ctx, regID, data)
	require.NoError(t, err)
}

func TestExecuteRejectsHashMismatch(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	data := []byte("hello world")

	dest := domain.MoveDestination{Kind: domain.DestinationSnapshot, NodeID: "node-1", FileID: "report.txt"}
	regID, err := p.Register(ctx, "user-1", "report.txt", "not-the-real-hash", domain.HashBlake3, int64(len(data)), dest)
	require.NoError(t, err)

	err = p.Execute(ctx, regID, data)
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.Conflict, derr.Kind)
}

func TestExecuteUnknownRegistrationReturnsNotFound(t *testing.T) {
	p, _ := newTestPipeline(t)
	err := p.Execute(context.Background(), "ghost-reg-id", []byte("data"))
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.NotFound, derr.Kind)
}

func TestRegisterFlashUploadsAlreadyStoredContent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	data := []byte("duplicate content")
	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	dest := domain.MoveDestination{Kind: domain.DestinationSnapshot, NodeID: "node-1", FileID: "a.txt"}
	regID, err := p.Register(ctx, "user-1", "a.txt", hash, domain.HashBlake3, int64(len(data)), dest)
	require.NoError(t, err)
	require.NoError(t, p.Execute(ctx, regID, data))

	// A second upload of the same content short-circuits at Register.
	_, err = p.Register(ctx, "user-2", "b.txt", hash, domain.HashBlake3, int64(len(data)), dest)
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.FlashUpload, derr.Kind)
}

func TestRecordNetDiskTouchesLastModifiedOnSameMetaRebind(t *testing.T) {
	p, netdisks := newTestPipeline(t)
	ctx := context.Background()
	data := []byte("report contents")
	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	dest := domain.MoveDestination{
		Kind:            domain.DestinationStorageServer,
		RecordNetDisk:   true,
		NetDiskParentID: "folder-1",
		NetDiskName:     "report.csv",
	}

	regID, err := p.Register(ctx, "user-a", "report.csv", hash, domain.HashBlake3, int64(len(data)), dest)
	require.NoError(t, err)
	require.NoError(t, p.Execute(ctx, regID, data))

	first, err := netdisks.GetByParentAndName(ctx, "folder-1", "report.csv")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "user-a", first.UserID)

	// A second caller uploads identical content to the same (parent, name):
	// only LastModified should change, not the entry's ID or UserID.
	_, err = p.Register(ctx, "user-b", "report.csv", hash, domain.HashBlake3, int64(len(data)), dest)
	require.Error(t, err)
	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.FlashUpload, derr.Kind)

	second, err := netdisks.GetByParentAndName(ctx, "folder-1", "report.csv")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID, "rebinding the same meta must not replace the entry's ID")
	assert.Equal(t, "user-a", second.UserID, "rebinding the same meta must not reassign ownership")
	assert.True(t, second.LastModified.After(first.LastModified) || second.LastModified.Equal(first.LastModified))
}
