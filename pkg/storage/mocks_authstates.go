package storage

import (
	"context"
	"sync"
	"time"
)

// MockAuthStateStore is an in-memory implementation of AuthStateStore for tests.
type MockAuthStateStore struct {
	mu     sync.Mutex
	states map[string]AuthStateRecord
}

// NewMockAuthStateStore returns a new in-memory AuthStateStore.
func NewMockAuthStateStore() *MockAuthStateStore {
	return &MockAuthStateStore{states: make(map[string]AuthStateRecord)}
}

func (m *MockAuthStateStore) CreateAuthState(_ context.Context, record AuthStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	m.states[record.ID] = record
	return nil
}

func (m *MockAuthStateStore) GetAuthStateByState(_ context.Context, state string) (*AuthStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.states {
		if record.State == state {
			copied := record
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockAuthStateStore) ConsumeAuthState(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.states[id]
	if !ok || record.Consumed {
		return false, nil
	}
	record.Consumed = true
	m.states[id] = record
	return true, nil
}

func (m *MockAuthStateStore) DeleteExpiredAuthStates(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, record := range m.states {
		if record.ExpiresAt.Before(before) {
			delete(m.states, id)
			removed++
		}
	}
	return removed, nil
}
