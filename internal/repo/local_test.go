package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageBrokerUploadThenReadRange(t *testing.T) {
	broker, err := NewLocalStorageBroker(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("0123456789")
	require.NoError(t, broker.Upload(ctx, "server-1", "blake3/abc", data))

	got, err := broker.ReadRange(ctx, "server-1", "blake3/abc", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)
}

func TestLocalStorageBrokerReadRangeUnknownKey(t *testing.T) {
	broker, err := NewLocalStorageBroker(t.TempDir())
	require.NoError(t, err)

	_, err = broker.ReadRange(context.Background(), "server-1", "missing", 0, 4)
	assert.Error(t, err)
}

func TestLocalStorageBrokerDefaultsBasePath(t *testing.T) {
	broker, err := NewLocalStorageBroker("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLocalBrokerPath, broker.basePath)
}

func TestLocalPackageRepoResolvesManifests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "software"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "software", "gromacs.yaml"), []byte(`
id: gromacs
name: GROMACS
command: gmx mdrun
input_files: ["topol.tpr"]
output_files: ["traj.xtc"]
`), 0644))

	repo := NewLocalPackageRepo(dir)
	m, err := repo.GetSoftwarePackage(context.Background(), "gromacs")
	require.NoError(t, err)
	assert.Equal(t, "GROMACS", m.Name)
	assert.Equal(t, []string{"topol.tpr"}, m.InputFiles)
}

func TestLocalPackageRepoUnknownIDReturnsError(t *testing.T) {
	repo := NewLocalPackageRepo(t.TempDir())
	_, err := repo.GetUsecasePackage(context.Background(), "ghost")
	assert.Error(t, err)
}
