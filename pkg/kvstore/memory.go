package kvstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store. Expired keys are dropped lazily and by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.expired(entry) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if m.expired(entry) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
