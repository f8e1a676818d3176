// Package memory is an in-process credstore.Store. Nothing survives a
// restart; it backs tests and OLT_CREDENTIAL_STORE=memory.
package memory

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
)

type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ credstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return "", credstore.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *Store) Close() error { return nil }
