package ledgerline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var resultBucket = []byte("idempotency_results")

type boltEntry struct {
	Result    []byte    `json:"result"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BoltResultStore persists idempotency results in a local bbolt file so a
// restarted process still recognizes recently completed operations. Expired
// entries are lazily dropped on read and purged by a periodic sweep.
type BoltResultStore struct {
	db        *bolt.DB
	stopSweep chan struct{}
	closeOnce sync.Once
}

// NewBoltResultStore opens (or creates) the database at path.
func NewBoltResultStore(path string, sweepEvery time.Duration) (*BoltResultStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening idempotency store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(resultBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating idempotency bucket: %w", err)
	}

	s := &BoltResultStore{db: db, stopSweep: make(chan struct{})}
	if sweepEvery > 0 {
		go s.sweepLoop(sweepEvery)
	}
	return s, nil
}

// Get returns the stored result if present and unexpired.
func (s *BoltResultStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var entry boltEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(resultBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("decoding stored result: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		_ = s.Delete(context.Background(), key)
		return nil, false, nil
	}
	return entry.Result, true, nil
}

// Set stores a result with the given TTL.
func (s *BoltResultStore) Set(_ context.Context, key string, result []byte, ttl time.Duration) error {
	raw, err := json.Marshal(boltEntry{Result: result, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(resultBucket).Put([]byte(key), raw)
	})
}

// Delete removes an entry.
func (s *BoltResultStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(resultBucket).Delete([]byte(key))
	})
}

// Close stops the sweep and closes the database file.
func (s *BoltResultStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopSweep) })
	return s.db.Close()
}

func (s *BoltResultStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *BoltResultStore) sweep() {
	now := time.Now()
	_ = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(resultBucket)
		cursor := bucket.Cursor()
		var expired [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil || now.After(entry.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
