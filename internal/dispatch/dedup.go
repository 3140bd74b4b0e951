package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore tracks which action batches have already been delivered so a
// replayed transition does not re-fire its side effects.
// The key format is "dispatch:{instanceId}:{version}".
type DedupStore interface {
	// Seen reports whether the key has already been marked.
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records the key with a TTL.
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// --- MemoryDedupStore ---

// MemoryDedupStore is an in-memory DedupStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryDedupStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemoryDedupStore creates a new in-memory dedup store.
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{
		entries: make(map[string]time.Time),
	}
}

// Seen reports whether the key is marked and not yet expired.
func (s *MemoryDedupStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	expiresAt, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Now().After(expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Mark records the key with a TTL.
func (s *MemoryDedupStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = time.Now().Add(ttl)
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryDedupStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryDedupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisDedupStore ---

// RedisDedupStore is a Redis-backed DedupStore with TTL.
type RedisDedupStore struct {
	client redis.Cmdable
}

// NewRedisDedupStore creates a new Redis-backed dedup store.
func NewRedisDedupStore(client redis.Cmdable) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

// Seen reports whether the key exists in Redis.
func (s *RedisDedupStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

// Mark records the key in Redis with a TTL.
func (s *RedisDedupStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisDedupStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FormatDedupKey builds the standard dedup key for an instance version.
func FormatDedupKey(instanceID string, version int) string {
	return fmt.Sprintf("dispatch:%s:%d", instanceID, version)
}
