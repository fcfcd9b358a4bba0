package store

import (
	"context"
	"sync"
)

// Memory is a process-local KV. It does not survive restarts and is meant
// for tests and throwaway profiles.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Get(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[ns][key]
	return v, ok, nil
}

func (m *Memory) GetMany(_ context.Context, ns string, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[ns][k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, ns, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(ns)[key] = value
	return nil
}

func (m *Memory) SetMany(_ context.Context, ns string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucket(ns)
	for k, v := range values {
		b[k] = v
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
	return nil
}

func (m *Memory) Close() error { return nil }

// bucket must be called with mu held.
func (m *Memory) bucket(ns string) map[string]string {
	b, ok := m.data[ns]
	if !ok {
		b = make(map[string]string)
		m.data[ns] = b
	}
	return b
}
