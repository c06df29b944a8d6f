package memory

import (
	"context"
	"sync"
)

type hashKey struct {
	scope string
	url   string
}

// HashStore is an in-memory crawler.HashStore.
type HashStore struct {
	mu     sync.RWMutex
	hashes map[hashKey]string
}

// NewHashStore constructs a HashStore.
func NewHashStore() *HashStore {
	return &HashStore{hashes: make(map[hashKey]string)}
}

// GetHash returns the stored hash or "" when absent.
func (s *HashStore) GetHash(_ context.Context, scope, url string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes[hashKey{scope: scope, url: url}], nil
}

// PutHash stores or replaces the hash.
func (s *HashStore) PutHash(_ context.Context, scope, url, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[hashKey{scope: scope, url: url}] = hash
	return nil
}
