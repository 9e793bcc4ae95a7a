package lock

import (
	"context"
	"sync"
	"time"
)

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store. It only excludes callers sharing the
// same process and is meant for single-instance deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

// SetNX implements Store.
func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[key]; ok && now.Before(l.expiresAt) {
		return false, nil
	}
	m.leases[key] = memoryLease{owner: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// CompareAndDelete implements Store.
func (m *MemoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[key]
	if !ok || l.owner != value || !m.now().Before(l.expiresAt) {
		return false, nil
	}
	delete(m.leases, key)
	return true, nil
}
