package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultLocalBrokerPath is the base directory LocalStorageBroker writes
// under when the caller doesn't specify one.
const DefaultLocalBrokerPath = "/var/lib/cos/objects"

// LocalStorageBroker is a filesystem-backed stand-in for the real
// object-storage client. It exists so cmd/cosctl's standalone mode can
// actually move a file end-to-end without a real storage server
// configured, the same role Warren's LocalDriver plays for container
// volumes.
type LocalStorageBroker struct {
	basePath string
}

// NewLocalStorageBroker creates a LocalStorageBroker rooted at basePath.
func NewLocalStorageBroker(basePath string) (*LocalStorageBroker, error) {
	if basePath == "" {
		basePath = DefaultLocalBrokerPath
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create local storage broker dir: %w", err)
	}
	return &LocalStorageBroker{basePath: basePath}, nil
}

func (b *LocalStorageBroker) path(serverURL, key string) string {
	return filepath.Join(b.basePath, serverURL, key)
}

// Upload writes data under serverURL/key, creating parent directories.
func (b *LocalStorageBroker) Upload(ctx context.Context, serverURL, key string, data []byte) error {
	p := b.path(serverURL, key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

// ReadRange reads length bytes at offset from serverURL/key.
func (b *LocalStorageBroker) ReadRange(ctx context.Context, serverURL, key string, offset, length int64) ([]byte, error) {
	f, err := os.Open(b.path(serverURL, key))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// LocalPackageManifest is the on-disk YAML shape LocalPackageRepo parses;
// one file per package, named <id>.yaml, dropped under a software/ or
// usecase/ subdirectory of the repo's root.
type LocalPackageManifest struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Command     string   `yaml:"command"`
	InputFiles  []string `yaml:"input_files,omitempty"`
	OutputFiles []string `yaml:"output_files,omitempty"`
}

// LocalPackageRepo is a filesystem-backed stand-in for the content
// repository's GraphQL client: it resolves package ids to manifests read
// from YAML files on disk, mirroring Warren's own apply command reading a
// single YAML resource file.
type LocalPackageRepo struct {
	root string
}

// NewLocalPackageRepo roots a LocalPackageRepo at dir, which must contain
// software/ and usecase/ subdirectories of <id>.yaml manifests.
func NewLocalPackageRepo(dir string) *LocalPackageRepo {
	return &LocalPackageRepo{root: dir}
}

func (r *LocalPackageRepo) load(kind, id string) (*PackageManifest, error) {
	data, err := os.ReadFile(filepath.Join(r.root, kind, id+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("read %s package %s: %w", kind, id, err)
	}

	var m LocalPackageManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s package %s: %w", kind, id, err)
	}

	return &PackageManifest{
		ID:          m.ID,
		Name:        m.Name,
		Command:     m.Command,
		InputFiles:  m.InputFiles,
		OutputFiles: m.OutputFiles,
	}, nil
}

// GetSoftwarePackage resolves a software package manifest by id.
func (r *LocalPackageRepo) GetSoftwarePackage(ctx context.Context, id string) (*PackageManifest, error) {
	return r.load("software", id)
}

// GetUsecasePackage resolves a usecase package manifest by id.
func (r *LocalPackageRepo) GetUsecasePackage(ctx context.Context, id string) (*PackageManifest, error) {
	return r.load("usecase", id)
}
