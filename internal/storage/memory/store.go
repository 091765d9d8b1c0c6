package memory

import (
	"context"
	"sync"

	"github.com/tjfontaine/routex-demo/internal/storage"
)

// Store is an in-memory implementation of KeyValueStore
type Store struct {
	mu     sync.Mutex
	values map[string][]byte
}

var _ storage.KeyValueStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(v), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = clone(value)
	return nil
}

func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.values, key)
	return v, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
