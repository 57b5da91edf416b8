package resultcache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value    []byte
	inserted time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// NewMemory returns an empty in-memory cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Set implements Cache. Expired entries are swept on every write.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if now.Sub(e.inserted) > m.ttl {
			delete(m.entries, k)
		}
	}
	m.entries[key] = entry{value: value, inserted: now}
	return nil
}

// Pop implements Cache.
func (m *Memory) Pop(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, key)
	if m.now().Sub(e.inserted) > m.ttl {
		return nil, ErrNotFound
	}
	return e.value, nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close implements Cache.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
	return nil
}
