package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store used in development and tests.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Apply(_ context.Context, mut Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range mut.Set {
		m.values[k] = v
	}
	for _, k := range mut.Delete {
		delete(m.values, k)
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
