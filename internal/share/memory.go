package share

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// MemoryStore keeps snapshots in a map for the life of the process.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.ShareSnapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*domain.ShareSnapshot)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, snapshot *domain.ShareSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.snapshots[snapshot.ShareID]; exists {
		return fmt.Errorf("share %s already exists", snapshot.ShareID)
	}
	stored := *snapshot
	stored.Agent = snapshot.Agent.Clone()
	m.snapshots[snapshot.ShareID] = &stored
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, shareID string) (*domain.ShareSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[shareID]
	if !ok {
		return nil, nil
	}
	out := *s
	out.Agent = s.Agent.Clone()
	return &out, nil
}

// DeleteExpired implements Store.
func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.snapshots {
		if s.Expired(now) {
			delete(m.snapshots, id)
			n++
		}
	}
	return n, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
