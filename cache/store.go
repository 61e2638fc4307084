package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// Bucket names in bbolt.
var (
	bucketSnapshots = []byte("snapshots")
	bucketMeta      = []byte("meta")
)

// Store persists cache entries to a local bbolt database so restarts
// resume from the last snapshot instead of an empty cache.
type Store struct {
	db *bbolt.DB
}

// NewStore opens (or creates) the snapshot database in dir.
func NewStore(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "dbfleet.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes one entry, replacing any previous snapshot for its key.
func (s *Store) Save(entry *Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		return bucket.Put([]byte(entry.Key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot for key %s: %w", entry.Key, err)
	}
	return nil
}

// Load returns the snapshot for a key, or nil when none exists.
func (s *Store) Load(key string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketSnapshots).Get([]byte(key))
		if value == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(value, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for key %s: %w", key, err)
	}
	return entry, nil
}

// LoadAll returns every persisted snapshot.
func (s *Store) LoadAll() ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			entry := &Entry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("corrupt snapshot %s: %w", k, err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	return entries, nil
}
