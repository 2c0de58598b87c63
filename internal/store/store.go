package store

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("key not found")

// Store is the best-effort key-value contract the runtime persists its
// small selections through (active agent, chat mode). Callers log failures
// and keep going; persistence never blocks the lifecycle.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

type memoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an in-process store, used when Redis is unconfigured
// and in tests.
func NewMemory() Store {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }
