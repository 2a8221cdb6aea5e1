package conversation

import (
	"context"
	"sync"
	"time"
)

// Store keeps sessions between turns. Callers serialize access per user.
type Store interface {
	Load(ctx context.Context, userID uint) (Session, bool, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, userID uint) error
	// Sweep drops sessions untouched since cutoff and reports how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is the in-process session store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uint]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uint]Session)}
}

func (m *MemoryStore) Load(_ context.Context, userID uint) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.UserID] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
