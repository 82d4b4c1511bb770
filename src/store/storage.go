package store

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("storage: item not found")

// Storage is the pluggable backend behind the persisted projection.
type Storage interface {
	GetItem(ctx context.Context, name string) ([]byte, error)
	SetItem(ctx context.Context, name string, value []byte) error
	RemoveItem(ctx context.Context, name string) error
}

type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

func (m *MemoryStorage) GetItem(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) SetItem(ctx context.Context, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[name] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStorage) RemoveItem(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, name)
	return nil
}
