package filemove

import (
	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/kvstore"
)

// TextStore deduplicates small inline text slot contents the same way the
// move pipeline dedupes files: the key is derived from the value itself, so
// storing identical text twice is a no-op rather than a second row.
type TextStore struct {
	texts *kvstore.TextStorageStore
}

// NewTextStore wraps a kvstore-backed TextStorageStore.
func NewTextStore(texts *kvstore.TextStorageStore) *TextStore {
	return &TextStore{texts: texts}
}

// Put stores value and returns the key that addresses it; calling Put again
// with the same value returns the same key without rewriting anything.
func (t *TextStore) Put(value string) (string, error) {
	key := blake3Hex([]byte(value))
	if err := t.texts.Put(domain.TextStorage{Key: key, Value: value}); err != nil {
		return "", errs.Wrap(errs.Transient, "failed to persist text storage", err)
	}
	return key, nil
}

// Get resolves a key minted by Put back to its value.
func (t *TextStore) Get(key string) (string, bool, error) {
	ts, ok, err := t.texts.Get(key)
	if err != nil {
		return "", false, errs.Wrap(errs.Transient, "failed to read text storage", err)
	}
	if !ok {
		return "", false, nil
	}
	return ts.Value, true, nil
}
