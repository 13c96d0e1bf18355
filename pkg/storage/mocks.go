package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockAuthConfigStore is an in-memory implementation of AuthConfigStore for tests.
type MockAuthConfigStore struct {
	mu          sync.RWMutex
	configs     map[string]AuthConfigRecord
	credentials map[string]CredentialRecord
}

// NewMockAuthConfigStore returns a new in-memory AuthConfigStore.
func NewMockAuthConfigStore() *MockAuthConfigStore {
	return &MockAuthConfigStore{
		configs:     make(map[string]AuthConfigRecord),
		credentials: make(map[string]CredentialRecord),
	}
}

func (m *MockAuthConfigStore) UpsertAuthConfig(_ context.Context, record AuthConfigRecord) (AuthConfigRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = StatusActive
	}
	now := time.Now().UTC()
	if existing, ok := m.configs[record.ID]; ok {
		record.CreatedAt = existing.CreatedAt
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	m.configs[record.ID] = record
	return record, nil
}

func (m *MockAuthConfigStore) GetAuthConfig(_ context.Context, id string) (*AuthConfigRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.configs[id]
	if !ok || record.Status == StatusDeleted {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

func (m *MockAuthConfigStore) ListAuthConfigs(_ context.Context, documentID string) ([]AuthConfigRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]AuthConfigRecord, 0)
	for _, record := range m.configs {
		if record.DocumentID != documentID || record.Status == StatusDeleted {
			continue
		}
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

func (m *MockAuthConfigStore) DeleteAuthConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.configs[id]
	if !ok {
		return nil
	}
	record.Status = StatusDeleted
	record.UpdatedAt = time.Now().UTC()
	m.configs[id] = record
	return nil
}

func (m *MockAuthConfigStore) UpsertCredential(_ context.Context, record CredentialRecord) (CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range m.credentials {
		if existing.AuthConfigID == record.AuthConfigID && existing.Key == record.Key {
			record.ID = id
			record.Version = existing.Version + 1
			record.CreatedAt = existing.CreatedAt
			record.UpdatedAt = now
			m.credentials[id] = record
			return record, nil
		}
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Version == 0 {
		record.Version = 1
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	m.credentials[record.ID] = record
	return record, nil
}

func (m *MockAuthConfigStore) GetCredential(_ context.Context, authConfigID, key string) (*CredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, record := range m.credentials {
		if record.AuthConfigID == authConfigID && record.Key == key {
			copied := record
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockAuthConfigStore) ListCredentials(_ context.Context, authConfigID string) ([]CredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]CredentialRecord, 0)
	for _, record := range m.credentials {
		if record.AuthConfigID == authConfigID {
			results = append(results, record)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func (m *MockAuthConfigStore) MarkCredentialRefreshed(_ context.Context, id, value string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.credentials[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	if value != "" && value != record.Value {
		record.Value = value
		record.Version++
	}
	record.ExpiresAt = expiresAt
	record.LastRefreshedAt = &now
	record.UpdatedAt = now
	m.credentials[id] = record
	return nil
}
