package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/catalog"
	"github.com/stepflow/gateway/pkg/storage"
)

type callRecorder struct {
	mu      sync.Mutex
	records []storage.CallLogRecord
}

func (r *callRecorder) RecordCall(_ context.Context, record storage.CallLogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *callRecorder) last(t *testing.T) storage.CallLogRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		t.Fatal("expected a call audit record")
	}
	return r.records[len(r.records)-1]
}

func executorFixture(t *testing.T, upstream string) (*Executor, *storage.MockAuthConfigStore, *callRecorder) {
	t.Helper()
	configs := storage.NewMockAuthConfigStore()
	directory := catalog.NewMockDirectory(configs)
	directory.AddEndpoint(catalog.Endpoint{
		ID:         "ep-1",
		DocumentID: "doc-1",
		BaseURL:    upstream,
		Path:       "/pets/{petId}",
		Method:     "GET",
	})

	audit := &callRecorder{}
	cache := auth.NewCache(auth.DefaultRegistry(), configs, nil)
	executor := NewExecutor(directory, cache, audit)
	return executor, configs, audit
}

func seedBearer(t *testing.T, configs *storage.MockAuthConfigStore) {
	t.Helper()
	ctx := context.Background()
	config, err := configs.UpsertAuthConfig(ctx, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBearer, Global: true,
	})
	if err != nil {
		t.Fatalf("seeding config: %v", err)
	}
	if _, err := configs.UpsertCredential(ctx, storage.CredentialRecord{
		AuthConfigID: config.ID, Key: "token", Value: "tok-upstream",
	}); err != nil {
		t.Fatalf("seeding credential: %v", err)
	}
}

func TestExecuteInjectsAuth(t *testing.T) {
	var gotAuth, gotTrace string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name":"rex"}`))
	}))
	defer upstream.Close()

	executor, configs, audit := executorFixture(t, upstream.URL)
	seedBearer(t, configs)

	resp, err := executor.Execute(context.Background(), Call{
		EndpointID: "ep-1",
		Path:       "/pets/42",
		Headers:    map[string]string{"Authorization": "Bearer caller", "X-Trace": "t-1"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if gotAuth != "Bearer tok-upstream" {
		t.Fatalf("scheme must own Authorization, upstream saw %q", gotAuth)
	}
	if gotTrace != "t-1" {
		t.Fatalf("caller headers must pass through, upstream saw %q", gotTrace)
	}

	record := audit.last(t)
	if record.StatusCode != http.StatusOK || record.EndpointID != "ep-1" {
		t.Fatalf("unexpected audit record: %+v", record)
	}
	if !strings.Contains(record.HeadersJSON, "[redacted]") {
		t.Fatalf("caller Authorization must be redacted in audit, got %s", record.HeadersJSON)
	}
	if record.ResponseBody != `{"name":"rex"}` {
		t.Fatalf("response body not captured: %q", record.ResponseBody)
	}
}

func TestExecutePassesThroughUpstreamErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer upstream.Close()

	executor, _, audit := executorFixture(t, upstream.URL)
	resp, err := executor.Execute(context.Background(), Call{EndpointID: "ep-1", Path: "/pets/42"})
	if err != nil {
		t.Fatalf("upstream statuses must pass through, got error %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if record := audit.last(t); record.StatusCode != http.StatusTeapot || record.ErrorType != "" {
		t.Fatalf("unexpected audit record: %+v", record)
	}
}

func TestExecuteTransportFailure(t *testing.T) {
	executor, _, audit := executorFixture(t, "http://127.0.0.1:1")
	_, err := executor.Execute(context.Background(), Call{EndpointID: "ep-1", Path: "/pets/42"})
	if err == nil {
		t.Fatal("expected transport failure")
	}
	if kind, _ := auth.KindOf(err); kind != auth.KindProxyTransport {
		t.Fatalf("expected proxy transport error, got %v", err)
	}

	record := audit.last(t)
	if record.StatusCode != 0 {
		t.Fatalf("transport failures carry no status, got %d", record.StatusCode)
	}
	if record.ErrorType != string(auth.KindProxyTransport) || record.ErrorMessage == "" {
		t.Fatalf("unexpected audit record: %+v", record)
	}
}

func TestExecuteTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	executor, configs, _ := executorFixture(t, upstream.URL)
	directory := catalog.NewMockDirectory(configs)
	directory.AddEndpoint(catalog.Endpoint{
		ID: "ep-slow", DocumentID: "doc-1", BaseURL: upstream.URL, Path: "/slow", Method: "GET", TimeoutMS: 20,
	})
	executor.Directory = directory
	executor.Resolver = &auth.Resolver{Directory: directory}

	_, err := executor.Execute(context.Background(), Call{EndpointID: "ep-slow"})
	if kind, _ := auth.KindOf(err); kind != auth.KindProxyTransport {
		t.Fatalf("expected transport error on timeout, got %v", err)
	}
}

func TestExecuteAuthFailureLeavesCallRecord(t *testing.T) {
	var reached bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	executor, configs, audit := executorFixture(t, upstream.URL)
	// A bearer config with no token credential: materialization fails
	// before anything is dispatched upstream.
	if _, err := configs.UpsertAuthConfig(context.Background(), storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBearer, Global: true,
	}); err != nil {
		t.Fatalf("seeding config: %v", err)
	}

	_, err := executor.Execute(context.Background(), Call{EndpointID: "ep-1"})
	if kind, _ := auth.KindOf(err); kind != auth.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if reached {
		t.Fatal("upstream must not be called when auth fails")
	}

	record := audit.last(t)
	if record.StatusCode != 0 {
		t.Fatalf("pre-dispatch failure must carry no status, got %d", record.StatusCode)
	}
	if record.ErrorType != string(auth.KindConfig) || record.ErrorMessage == "" {
		t.Fatalf("unexpected error fields: %+v", record)
	}
	if record.EndpointID != "ep-1" {
		t.Fatalf("record endpoint = %q", record.EndpointID)
	}
}

func TestExecuteUnknownEndpoint(t *testing.T) {
	executor, _, _ := executorFixture(t, "http://unused.example.com")
	_, err := executor.Execute(context.Background(), Call{EndpointID: "ep-missing"})
	if !errors.Is(err, ErrEndpointNotFound) {
		t.Fatalf("expected ErrEndpointNotFound, got %v", err)
	}
}

func TestExecuteFindsEndpointByPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pets/42" {
			t.Errorf("unexpected upstream path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	executor, _, _ := executorFixture(t, upstream.URL)
	resp, err := executor.Execute(context.Background(), Call{
		DocumentID: "doc-1",
		Path:       "/pets/42",
		Method:     "GET",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
