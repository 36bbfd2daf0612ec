// internal/cache/memory.go
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

type memoryEntry struct {
	raw      []byte
	storedAt time.Time
}

// MemoryStore is an in-process Store. Values are kept JSON-encoded so callers
// never share mutable state through the cache.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store whose entries expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source; tests use it to age entries.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && m.now().Sub(entry.storedAt) > m.ttl {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if dst == nil {
		return true, nil
	}
	if err := json.Unmarshal(entry.raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry{raw: raw, storedAt: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) TTL() time.Duration {
	return m.ttl
}

// Purge drops every expired entry and returns how many were removed.
func (m *MemoryStore) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if now.Sub(entry.storedAt) > m.ttl {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error {
	return nil
}
