package preferences

import (
	"context"
	"sync"
)

// InMemoryRepository keeps preferences in process memory.
type InMemoryRepository struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{values: make(map[string][]byte)}
}

// NewInMemoryRepositoryWithValues creates a repository seeded with raw values.
func NewInMemoryRepositoryWithValues(values map[string][]byte) *InMemoryRepository {
	repo := NewInMemoryRepository()
	for k, v := range values {
		repo.values[k] = append([]byte(nil), v...)
	}
	return repo
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements Repository.
func (r *InMemoryRepository) Put(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = append([]byte(nil), value...)
	return nil
}
