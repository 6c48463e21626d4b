package multipart

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
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)

	return New(kv.Multiparts(), cache)
}

func TestCompletePartAssemblesWhenAllShardsLand(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	part0, part1 := []byte("hello "), []byte("world")
	full := append(append([]byte{}, part0...), part1...)
	sum := blake3.Sum256(full)
	hash := hex.EncodeToString(sum[:])

	require.NoError(t, m.Create(ctx, "meta-1", hash, domain.HashBlake3, 2))

	_, done, err := m.CompletePart(ctx, "meta-1", 0, part0)
	require.NoError(t, err)
	assert.False(t, done)

	assembled, done, err := m.CompletePart(ctx, "meta-1", 1, part1)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, full, assembled)
}

func TestCompletePartDetectsHashMismatch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "meta-1", "not-the-real-hash", domain.HashBlake3, 1))

	_, _, err := m.CompletePart(ctx, "meta-1", 0, []byte("some bytes"))
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.Conflict, derr.Kind)
}

func TestCompletePartRejectsOutOfRangeIndex(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "meta-1", "", domain.HashBlake3, 1))

	_, _, err := m.CompletePart(ctx, "meta-1", 5, []byte("x"))
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.NotFound, derr.Kind)
}

func TestCreateConflictsOnDifferentHash(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "meta-1", "hash-a", domain.HashBlake3, 2))

	err := m.Create(ctx, "meta-1", "hash-b", domain.HashBlake3, 2)
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.Conflict, derr.Kind)
}

func TestCreateRetryWithSameHashReportsDistinctCode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "meta-1", "hash-a", domain.HashBlake3, 2))

	err := m.Create(ctx, "meta-1", "hash-a", domain.HashBlake3, 2)
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.Conflict, derr.Kind)
	assert.Equal(t, errs.CodeConflictedID, derr.Code)
}

func TestAbortDiscardsLease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "meta-1", "", domain.HashBlake3, 1))
	require.NoError(t, m.Abort(ctx, "meta-1"))

	_, _, err := m.CompletePart(ctx, "meta-1", 0, []byte("x"))
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.NotFound, derr.Kind)
}
