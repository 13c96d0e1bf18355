package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockAuthorizationStore is an in-memory implementation of AuthorizationStore for tests.
type MockAuthorizationStore struct {
	mu      sync.Mutex
	records map[string]AuthorizationRecord
}

// NewMockAuthorizationStore returns a new in-memory AuthorizationStore.
func NewMockAuthorizationStore() *MockAuthorizationStore {
	return &MockAuthorizationStore{records: make(map[string]AuthorizationRecord)}
}

func (m *MockAuthorizationStore) UpsertAuthorization(_ context.Context, record AuthorizationRecord) (AuthorizationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range m.records {
		if existing.UserID == record.UserID && existing.DocumentID == record.DocumentID && existing.AuthConfigID == record.AuthConfigID {
			record.ID = id
			record.CreatedAt = existing.CreatedAt
			record.UpdatedAt = now
			m.records[id] = record
			return record, nil
		}
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	m.records[record.ID] = record
	return record, nil
}

func (m *MockAuthorizationStore) GetAuthorization(_ context.Context, userID, documentID, authConfigID string) (*AuthorizationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.UserID != userID || record.DocumentID != documentID {
			continue
		}
		if authConfigID != "" && record.AuthConfigID != authConfigID {
			continue
		}
		if !record.Active {
			continue
		}
		copied := record
		return &copied, nil
	}
	return nil, nil
}

func (m *MockAuthorizationStore) DeactivateAuthorization(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil
	}
	record.Active = false
	record.UpdatedAt = time.Now().UTC()
	m.records[id] = record
	return nil
}

func (m *MockAuthorizationStore) TouchAuthorizationUsed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	record.LastUsedAt = &now
	m.records[id] = record
	return nil
}
