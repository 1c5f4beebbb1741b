// Package memory backs the plan and trigger repositories with an in-memory
// table when no database is configured. Entities are keyed by their ID.
package memory

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when the requested key has no stored value.
var ErrNotFound = errors.New("not found")

// Store is a concurrency-safe in-memory map of entities keyed by ID.
type Store[V any] struct {
	mu   sync.RWMutex
	rows map[string]V
}

func New[V any]() *Store[V] {
	return &Store[V]{rows: make(map[string]V)}
}

// Set inserts or replaces the value under key. Replacing is not an error;
// plan registration relies on this being idempotent.
func (s *Store[V]) Set(_ context.Context, key string, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = v
	return nil
}

// Update replaces the value under key, or returns ErrNotFound if nothing is
// stored there. Trigger updates must not resurrect deleted triggers.
func (s *Store[V]) Update(_ context.Context, key string, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[key]; !ok {
		return ErrNotFound
	}
	s.rows[key] = v
	return nil
}

// Get returns the value under key, or ErrNotFound.
func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// Delete removes the value under key, or returns ErrNotFound.
func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[key]; !ok {
		return ErrNotFound
	}
	delete(s.rows, key)
	return nil
}

// All returns every stored value in arbitrary order.
func (s *Store[V]) All(_ context.Context) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.rows))
	for _, v := range s.rows {
		out = append(out, v)
	}
	return out, nil
}

// Filter returns every value for which pred holds, in arbitrary order.
func (s *Store[V]) Filter(_ context.Context, pred func(V) bool) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for _, v := range s.rows {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Has reports whether key has a stored value.
func (s *Store[V]) Has(_ context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[key]
	return ok
}
