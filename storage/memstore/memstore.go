// Package memstore is an in-memory storage.Store for tests and ephemeral runs.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/jrsteele09/smartstudy-sync/internal/errors"
	"github.com/jrsteele09/smartstudy-sync/storage"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	values map[storage.Key][]byte
	lock   sync.RWMutex
}

func New() *Store {
	return &Store{
		values: make(map[storage.Key][]byte),
	}
}

func (s *Store) Get(_ context.Context, key storage.Key) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *Store) Set(_ context.Context, key storage.Key, value []byte) error {
	if key == "" {
		return errors.ErrInvalidKey
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Delete(_ context.Context, key storage.Key) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.values, key)
	return nil
}

func (s *Store) Keys(_ context.Context, prefix storage.Key) ([]storage.Key, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	keys := make([]storage.Key, 0)
	for k := range s.values {
		if strings.HasPrefix(string(k), string(prefix)) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
