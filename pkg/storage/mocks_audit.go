package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockAuditStore is an in-memory implementation of AuditStore for tests.
type MockAuditStore struct {
	mu           sync.Mutex
	AuthLogs     []AuthLogRecord
	CallLogs     []CallLogRecord
	CallbackLogs []CallbackLogRecord
	Stats        map[string]EndpointStats
}

// NewMockAuditStore returns a new in-memory AuditStore.
func NewMockAuditStore() *MockAuditStore {
	return &MockAuditStore{Stats: make(map[string]EndpointStats)}
}

func (m *MockAuditStore) CreateAuthLogs(_ context.Context, records []AuthLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthLogs = append(m.AuthLogs, records...)
	return nil
}

func (m *MockAuditStore) CreateCallLogs(_ context.Context, records []CallLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLogs = append(m.CallLogs, records...)
	return nil
}

func (m *MockAuditStore) CreateCallbackLogs(_ context.Context, records []CallbackLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallbackLogs = append(m.CallbackLogs, records...)
	return nil
}

func (m *MockAuditStore) ListRecentCalls(_ context.Context, filter CallLogFilter) ([]CallLogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]CallLogRecord, 0)
	for _, record := range m.CallLogs {
		if filter.EndpointID != "" && record.EndpointID != filter.EndpointID {
			continue
		}
		if filter.DocumentID != "" && record.DocumentID != filter.DocumentID {
			continue
		}
		if filter.ErrorsOnly && record.ErrorType == "" && record.StatusCode < 400 {
			continue
		}
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) })
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (m *MockAuditStore) ListRecentAuthAttempts(_ context.Context, limit int) ([]AuthLogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := append([]AuthLogRecord(nil), m.AuthLogs...)
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MockAuditStore) RecordCallOutcome(_ context.Context, endpointID string, statusCode int, hasStatus bool, latencyMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.Stats[endpointID]
	stats.EndpointID = endpointID
	stats.CallCount++
	if hasStatus {
		if statusCode < 400 {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
	}
	stats.AvgResponseTimeMS += (float64(latencyMS) - stats.AvgResponseTimeMS) / float64(stats.CallCount)
	stats.UpdatedAt = time.Now().UTC()
	m.Stats[endpointID] = stats
	return nil
}

func (m *MockAuditStore) GetEndpointStats(_ context.Context, endpointID string) (*EndpointStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.Stats[endpointID]
	if !ok {
		return nil, nil
	}
	copied := stats
	return &copied, nil
}

func (m *MockAuditStore) ListEndpointStats(_ context.Context, limit int) ([]EndpointStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]EndpointStats, 0, len(m.Stats))
	for _, stats := range m.Stats {
		results = append(results, stats)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].EndpointID < results[j].EndpointID })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MockAuditStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	keptAuth := m.AuthLogs[:0]
	for _, record := range m.AuthLogs {
		if record.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		keptAuth = append(keptAuth, record)
	}
	m.AuthLogs = keptAuth
	keptCalls := m.CallLogs[:0]
	for _, record := range m.CallLogs {
		if record.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		keptCalls = append(keptCalls, record)
	}
	m.CallLogs = keptCalls
	return removed, nil
}
