package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("results")

type boltEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BoltCache keeps cached values in a local bbolt file. Expired entries are
// dropped lazily on read.
type BoltCache struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltCache opens or creates the cache file at path.
func OpenBoltCache(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &BoltCache{db: db, now: time.Now}, nil
}

// Set stores value until expiration elapses. A non-positive expiration never expires.
func (c *BoltCache) Set(_ context.Context, key, value string, expiration time.Duration) error {
	entry := boltEntry{Value: value}
	if expiration > 0 {
		entry.ExpiresAt = c.now().Add(expiration)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), data)
	})
}

// Get returns the stored value or ErrCacheMiss.
func (c *BoltCache) Get(_ context.Context, key string) (string, error) {
	var (
		entry boltEntry
		found bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(boltBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrCacheMiss
	}
	if !entry.ExpiresAt.IsZero() && !c.now().Before(entry.ExpiresAt) {
		_ = c.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(boltBucket).Delete([]byte(key))
		})
		return "", ErrCacheMiss
	}
	return entry.Value, nil
}

// Close releases the file lock.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
