package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store. It is only safe as a lock store when
// a single importer process runs.
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[string]memoryEntry
	hashes  map[string]map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		hashes:  make(map[string]map[string]string),
		now:     time.Now,
	}
}

// SetClock replaces the time source, for tests
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = now
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if entry.expired(m.now()) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries[key] = m.newEntry(value, ttl)
	return nil
}

func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
		delete(m.hashes, key)
	}
	return nil
}

func (m *MemoryStore) HashGet(ctx context.Context, key string) (map[string]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make(map[string]string, len(m.hashes[key]))
	for field, value := range m.hashes[key] {
		result[field] = value
	}
	return result, nil
}

func (m *MemoryStore) HashSetMulti(ctx context.Context, key string, fields map[string]string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]string, len(fields))
		m.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = value
	}
	return nil
}

func (m *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if entry, ok := m.entries[key]; ok && !entry.expired(m.now()) {
		return false, nil
	}
	m.entries[key] = m.newEntry(value, ttl)
	return true, nil
}

func (m *MemoryStore) newEntry(value string, ttl time.Duration) memoryEntry {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	return entry
}
