package kvstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMultipart = []byte("multipart")
	bucketMoveReg   = []byte("move_registration")
	bucketSnapshot  = []byte("snapshot")
	bucketWsReqInfo = []byte("ws_req_info")
	bucketTextStore = []byte("text_storage")
	bucketLeases    = []byte("leases")
)

// Store is the bbolt-backed leased key/value store. Every bucket holds
// JSON values keyed by a caller-chosen composite string; entries written
// with a non-zero TTL get a companion row in bucketLeases that Sweep
// consults to evict them.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the kvstore file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "cos-kv.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kvstore: %w", err)
	}

	buckets := [][]byte{bucketMultipart, bucketMoveReg, bucketSnapshot, bucketWsReqInfo, bucketTextStore, bucketLeases}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) put(bucket []byte, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucket).Put([]byte(key), data); err != nil {
			return err
		}
		leaseKey := string(bucket) + "/" + key
		if ttl <= 0 {
			return tx.Bucket(bucketLeases).Delete([]byte(leaseKey))
		}
		expiry := []byte(time.Now().Add(ttl).Format(time.RFC3339Nano))
		return tx.Bucket(bucketLeases).Put([]byte(leaseKey), expiry)
	})
}

func (s *Store) get(bucket []byte, key string, out any) (bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil || data == nil {
		return false, err
	}
	if s.expired(bucket, key) {
		_ = s.delete(bucket, key)
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (s *Store) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketLeases).Delete([]byte(string(bucket) + "/" + key))
	})
}

func (s *Store) expired(bucket []byte, key string) bool {
	var expired bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLeases).Get([]byte(string(bucket) + "/" + key))
		if v == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return nil
		}
		expired = time.Now().After(t)
		return nil
	})
	return expired
}

// scanPrefix returns every (key, raw JSON value) pair in bucket whose key
// starts with prefix, skipping leases that have expired.
func (s *Store) scanPrefix(bucket []byte, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		bp := []byte(prefix)
		for k, v := c.Seek(bp); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for k := range out {
		if s.expired(bucket, k) {
			delete(out, k)
		}
	}
	return out, nil
}

// Sweep removes every expired lease and its value across all buckets. Call
// it periodically from a background goroutine. The TTL'd entries are the
// WsReqInfo rows internal/realtime writes and the MoveRegistration rows
// internal/filemove writes; Multipart rows are stored without a TTL and are
// never swept.
func (s *Store) Sweep() error {
	now := time.Now()
	var expiredKeys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLeases).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			t, err := time.Parse(time.RFC3339Nano, string(v))
			if err == nil && now.After(t) {
				expiredKeys = append(expiredKeys, string(k))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, leaseKey := range expiredKeys {
			bucket, key, ok := strings.Cut(leaseKey, "/")
			if !ok {
				continue
			}
			if b := tx.Bucket([]byte(bucket)); b != nil {
				_ = b.Delete([]byte(key))
			}
			_ = tx.Bucket(bucketLeases).Delete([]byte(leaseKey))
		}
		return nil
	})
}

// RunSweeper launches a goroutine that calls Sweep every interval until
// stop is closed.
func (s *Store) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.Sweep()
			case <-stop:
				return
			}
		}
	}()
}
