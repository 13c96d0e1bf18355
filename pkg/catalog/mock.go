package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/stepflow/gateway/pkg/storage"
)

// MockDirectory is an in-memory Directory for tests.
type MockDirectory struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	configs   storage.AuthConfigStore
}

// NewMockDirectory returns an in-memory directory backed by the given
// auth config store.
func NewMockDirectory(configs storage.AuthConfigStore) *MockDirectory {
	return &MockDirectory{endpoints: make(map[string]Endpoint), configs: configs}
}

// AddEndpoint registers an endpoint.
func (m *MockDirectory) AddEndpoint(endpoint Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[endpoint.ID] = endpoint
}

func (m *MockDirectory) UpsertEndpoint(_ context.Context, endpoint Endpoint) (Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if endpoint.ID == "" {
		endpoint.ID = "ep-" + strings.ToLower(endpoint.Method) + "-" + endpoint.Path
	}
	endpoint.Method = strings.ToUpper(endpoint.Method)
	m.endpoints[endpoint.ID] = endpoint
	return endpoint, nil
}

func (m *MockDirectory) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	endpoint, ok := m.endpoints[id]
	if !ok {
		return nil, nil
	}
	copied := endpoint
	return &copied, nil
}

func (m *MockDirectory) FindEndpoint(_ context.Context, documentID, path, method string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	method = strings.ToUpper(method)
	for _, endpoint := range m.endpoints {
		if documentID != "" && endpoint.DocumentID != documentID {
			continue
		}
		if endpoint.Method != method {
			continue
		}
		if endpoint.Path == path || MatchPath(endpoint.Path, path) {
			copied := endpoint
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockDirectory) GetAuthConfigsForDocument(ctx context.Context, documentID string) ([]storage.AuthConfigRecord, error) {
	if m.configs == nil {
		return nil, nil
	}
	return m.configs.ListAuthConfigs(ctx, documentID)
}
