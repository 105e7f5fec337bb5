package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. Single instance only; use
// RedisStore when more than one worker runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
}

// NewMemoryStore creates an in-memory claim store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

func (s *MemoryStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.setOnce(key, ttl), nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)

	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.setOnce("lock:"+key, ttl), nil
}

func (s *MemoryStore) Unlock(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, "lock:"+key)

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) setOnce(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	expiry, exists := s.entries[key]
	if exists && expiry.After(now) {
		return false
	}

	s.entries[key] = now.Add(ttl)

	return true
}
