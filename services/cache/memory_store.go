package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is a size-bounded in-process store with per-entry expiry
type MemoryStore struct {
	cache *lru.Cache[string, memoryItem]
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most maxItems entries
func NewMemoryStore(maxItems int) (*MemoryStore, error) {
	cache, err := lru.New[string, memoryItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

// Get returns the value for key unless it has expired
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(item.expiresAt) {
		s.cache.Remove(key)
		return nil, false, nil
	}
	return item.data, true, nil
}

// Set stores a copy of value for ttl
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)
	s.cache.Add(key, memoryItem{data: data, expiresAt: s.now().Add(ttl)})
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// Len returns the number of entries, expired ones included
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close purges the store
func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
