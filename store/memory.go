package store

import (
	"context"
	"sync"

	"github.com/peerwallet-project/walletbridge/types"
)

// MemoryStore is an in-memory SessionStore for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]types.PersistedSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]types.PersistedSession)}
}

// LoadAll returns every persisted session.
func (m *MemoryStore) LoadAll(ctx context.Context) ([]types.PersistedSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.PersistedSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

// Save writes one session projection.
func (m *MemoryStore) Save(ctx context.Context, s types.PersistedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Key.String()] = s
	return nil
}

// Remove deletes the projection for a key.
func (m *MemoryStore) Remove(ctx context.Context, key types.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key.String())
	return nil
}

// Len reports the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

var _ SessionStore = (*MemoryStore)(nil)
