package memory

import (
	"context"
	"sync"
	"time"
)

type idempotencyEntry struct {
	value     []byte
	expiresAt time.Time
}

// IdempotencyStore implements usecase.IdempotencyStore for single-process
// deployments without Redis.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	now     func() time.Time
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		entries: make(map[string]idempotencyEntry),
		now:     time.Now,
	}
}

// CheckAndSet atomically checks if key exists, sets if not.
func (s *IdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok {
		if now.Before(entry.expiresAt) {
			return true, entry.value, nil
		}
		delete(s.entries, key)
	}

	value := response
	if value == nil {
		value = []byte("processing")
	}
	s.entries[key] = idempotencyEntry{value: value, expiresAt: now.Add(ttl)}
	return false, nil, nil
}

// Update updates an existing key with the final response.
func (s *IdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = idempotencyEntry{value: response, expiresAt: s.now().Add(ttl)}
	return nil
}

// Purge drops expired keys.
func (s *IdempotencyStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
