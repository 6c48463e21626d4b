package multipart

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultCachePath is the base directory multipart uploads stage under,
// mirroring Warren's DefaultVolumesPath convention.
const DefaultCachePath = "/var/lib/cos/multipart"

// Cache is a local-disk staging area: one directory per in-progress upload,
// one file per part, concatenated once every part has landed.
type Cache struct {
	basePath string
}

// NewCache creates a Cache rooted at basePath (DefaultCachePath if empty).
func NewCache(basePath string) (*Cache, error) {
	if basePath == "" {
		basePath = DefaultCachePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create multipart cache directory: %w", err)
	}
	return &Cache{basePath: basePath}, nil
}

func (c *Cache) dir(metaID string) string {
	return filepath.Join(c.basePath, metaID)
}

func (c *Cache) partPath(metaID string, nth int) string {
	return filepath.Join(c.dir(metaID), fmt.Sprintf("part-%06d", nth))
}

// WritePart stages one shard's bytes.
func (c *Cache) WritePart(metaID string, nth int, data []byte) error {
	if err := os.MkdirAll(c.dir(metaID), 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.WriteFile(c.partPath(metaID, nth), data, 0o644); err != nil {
		return fmt.Errorf("failed to write part: %w", err)
	}
	return nil
}

// Concatenate reads every part in [0, partCount) in order and returns the
// assembled content.
func (c *Cache) Concatenate(metaID string, partCount int) ([]byte, error) {
	var out []byte
	for i := 0; i < partCount; i++ {
		data, err := os.ReadFile(c.partPath(metaID, i))
		if err != nil {
			return nil, fmt.Errorf("failed to read part %d: %w", i, err)
		}
		out = append(out, data...)
	}
	return out, nil
}

// Remove deletes an upload's entire staging directory.
func (c *Cache) Remove(metaID string) error {
	return os.RemoveAll(c.dir(metaID))
}
