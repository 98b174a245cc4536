package kvstore

import (
	"context"
	"sync"

	"github.com/helixir/research-session-service/internal/domain"
)

// MemoryStore is an in-process Store. It backs tests and serves as the
// degraded-mode fallback when no external store is reachable. Contents do not
// survive a process restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// Compile-time check that *MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]string),
	}
}

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return "", domain.NewNotFoundError("session key", key)
	}
	return value, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return nil
}

// SetMulti stores every entry of kv under a single lock acquisition, so
// readers never observe a partially applied batch.
func (s *MemoryStore) SetMulti(_ context.Context, kv map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range sortedKeys(kv) {
		s.data[k] = kv[k]
	}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close discards the stored data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]string)
	return nil
}

// Name identifies the backend.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
