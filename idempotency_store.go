package ledgerline

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// ResultStore persists successful idempotent results keyed by idempotency
// key. Implementations must be safe for concurrent use. Entries expire after
// the TTL passed to Set.
type ResultStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, result []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type memoryEntry struct {
	result    []byte
	expiresAt time.Time
}

type memoryShard struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
}

// InMemoryResultStore is a sharded process-local store with TTL expiry and a
// periodic sweep that purges expired entries.
type InMemoryResultStore struct {
	shards    []*memoryShard
	numShards int
	stopSweep chan struct{}
	closeOnce sync.Once
}

// NewInMemoryResultStore creates a store sweeping expired entries every
// sweepEvery.
func NewInMemoryResultStore(sweepEvery time.Duration) *InMemoryResultStore {
	const numShards = 16
	shards := make([]*memoryShard, numShards)
	for i := range shards {
		shards[i] = &memoryShard{store: make(map[string]memoryEntry)}
	}
	s := &InMemoryResultStore{
		shards:    shards,
		numShards: numShards,
		stopSweep: make(chan struct{}),
	}
	go s.sweepLoop(sweepEvery)
	return s
}

func (s *InMemoryResultStore) getShard(key string) *memoryShard {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return s.shards[hash.Sum32()%uint32(s.numShards)]
}

// Get returns the stored result if present and unexpired.
func (s *InMemoryResultStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	shard := s.getShard(key)
	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		shard.mu.Lock()
		delete(shard.store, key)
		shard.mu.Unlock()
		return nil, false, nil
	}
	return entry.result, true, nil
}

// Set stores a result with the given TTL.
func (s *InMemoryResultStore) Set(_ context.Context, key string, result []byte, ttl time.Duration) error {
	shard := s.getShard(key)
	shard.mu.Lock()
	shard.store[key] = memoryEntry{result: result, expiresAt: time.Now().Add(ttl)}
	shard.mu.Unlock()
	return nil
}

// Delete removes an entry.
func (s *InMemoryResultStore) Delete(_ context.Context, key string) error {
	shard := s.getShard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
	return nil
}

// Close stops the sweep goroutine.
func (s *InMemoryResultStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopSweep) })
	return nil
}

// Len returns the current number of stored entries.
func (s *InMemoryResultStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

func (s *InMemoryResultStore) sweepLoop(every time.Duration) {
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

func (s *InMemoryResultStore) sweep() {
	now := time.Now()
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, entry := range shard.store {
			if now.After(entry.expiresAt) {
				delete(shard.store, key)
			}
		}
		shard.mu.Unlock()
	}
}
