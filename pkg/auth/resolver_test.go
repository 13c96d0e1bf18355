package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stepflow/gateway/pkg/catalog"
	"github.com/stepflow/gateway/pkg/storage"
)

func resolverFixture(t *testing.T) (*Resolver, *storage.MockAuthConfigStore, catalog.Endpoint) {
	t.Helper()
	configs := storage.NewMockAuthConfigStore()
	directory := catalog.NewMockDirectory(configs)
	endpoint := catalog.Endpoint{ID: "ep-1", DocumentID: "doc-1", Path: "/pets", Method: "GET"}
	directory.AddEndpoint(endpoint)
	return &Resolver{Directory: directory}, configs, endpoint
}

func seedConfig(t *testing.T, configs *storage.MockAuthConfigStore, record storage.AuthConfigRecord) storage.AuthConfigRecord {
	t.Helper()
	created, err := configs.UpsertAuthConfig(context.Background(), record)
	if err != nil {
		t.Fatalf("seeding config: %v", err)
	}
	return created
}

func TestResolveEndpointSpecificWins(t *testing.T) {
	resolver, configs, endpoint := resolverFixture(t)
	seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBearer, Global: true, Priority: 100,
	})
	specific := seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", EndpointID: "ep-1", Scheme: storage.SchemeAPIKey, Priority: 1,
	})

	resolved, err := resolver.Resolve(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved == nil || resolved.ID != specific.ID {
		t.Fatalf("expected endpoint-specific config to win, got %+v", resolved)
	}
}

func TestResolveGlobalByPriority(t *testing.T) {
	resolver, configs, endpoint := resolverFixture(t)
	seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBasic, Global: true, Priority: 10,
	})
	winner := seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBearer, Global: true, Priority: 50,
	})

	resolved, err := resolver.Resolve(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved == nil || resolved.ID != winner.ID {
		t.Fatalf("expected highest-priority global, got %+v", resolved)
	}
}

func TestResolveTiesBreakOnRecency(t *testing.T) {
	resolver, configs, endpoint := resolverFixture(t)
	seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBasic, Global: true, Priority: 10,
	})
	time.Sleep(2 * time.Millisecond)
	newer := seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBearer, Global: true, Priority: 10,
	})

	resolved, err := resolver.Resolve(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved == nil || resolved.ID != newer.ID {
		t.Fatalf("expected most recently updated config, got %+v", resolved)
	}
}

func TestResolveSkipsInactiveAndForeign(t *testing.T) {
	resolver, configs, endpoint := resolverFixture(t)
	seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeBearer, Global: true, Status: storage.StatusDisabled,
	})
	seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", EndpointID: "ep-other", Scheme: storage.SchemeAPIKey,
	})

	resolved, err := resolver.Resolve(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != nil {
		t.Fatalf("expected no config, got %+v", resolved)
	}
}

func TestResolveAuthRequiredWithoutConfig(t *testing.T) {
	resolver, _, endpoint := resolverFixture(t)
	endpoint.AuthRequired = true

	_, err := resolver.Resolve(context.Background(), endpoint)
	if err == nil {
		t.Fatal("expected error when auth is required but nothing resolves")
	}
	if kind, _ := KindOf(err); kind != KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestResolveSchemeNone(t *testing.T) {
	resolver, configs, endpoint := resolverFixture(t)
	seedConfig(t, configs, storage.AuthConfigRecord{
		DocumentID: "doc-1", Scheme: storage.SchemeNone, Global: true,
	})

	resolved, err := resolver.Resolve(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != nil {
		t.Fatalf("scheme none must resolve to no auth, got %+v", resolved)
	}

	endpoint.AuthRequired = true
	if _, err := resolver.Resolve(context.Background(), endpoint); err == nil {
		t.Fatal("expected error when required auth resolves to scheme none")
	}
}
