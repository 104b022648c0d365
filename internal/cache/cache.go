// Package cache is a small TTL cache over BadgerDB, used to shield the
// upstream tracker and source host from repeated identical reads.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache wraps a badger database with namespaced, JSON-encoded entries.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens the cache at path with the given default TTL.
func Open(path string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// OpenInMemory opens a cache with no disk footprint, used in tests.
func OpenInMemory(ttl time.Duration) (*Cache, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Set stores value under namespace:key with the default TTL.
func (c *Cache) Set(namespace, key string, value any) error {
	return c.SetTTL(namespace, key, value, c.ttl)
}

// SetTTL stores value with an explicit TTL.
func (c *Cache) SetTTL(namespace, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(fullKey(namespace, key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Get decodes the entry under namespace:key into out. Absent or expired
// entries return ErrMiss.
func (c *Cache) Get(namespace, key string, out any) error {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fullKey(namespace, key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrMiss
	}
	return err
}

// Delete removes one entry. Missing keys are not an error.
func (c *Cache) Delete(namespace, key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fullKey(namespace, key))
	})
}

func fullKey(namespace, key string) []byte {
	return []byte(namespace + ":" + key)
}
