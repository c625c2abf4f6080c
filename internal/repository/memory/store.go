package memory

import (
	"context"
	"sync"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository"
)

type store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an in-memory Store.
func NewStore() repository.Store {
	return &store{data: make(map[string][]byte)}
}

func (s *store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
