package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stepflow/gateway/pkg/storage"
)

func TestBasicProvider(t *testing.T) {
	provider := &BasicProvider{}
	result, err := provider.Authenticate(context.Background(), Request{
		Credentials: []storage.CredentialRecord{
			{Key: "username", Value: "svc"},
			{Key: "password", Value: "hunter2"},
		},
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("svc:hunter2"))
	if got := result.Material.Headers["Authorization"]; got != want {
		t.Fatalf("Authorization = %q, want %q", got, want)
	}

	_, err = provider.Authenticate(context.Background(), Request{})
	if kind, _ := KindOf(err); kind != KindConfig {
		t.Fatalf("expected config error for missing credentials, got %v", err)
	}
}

func TestBearerProviderExpired(t *testing.T) {
	provider := &BearerProvider{}
	expired := time.Now().Add(-time.Minute)
	_, err := provider.Authenticate(context.Background(), Request{
		Credentials: []storage.CredentialRecord{
			{Key: "token", Value: "tok-1", ExpiresAt: &expired},
		},
	})
	if kind, _ := KindOf(err); kind != KindCredential {
		t.Fatalf("expected credential error for expired token, got %v", err)
	}
}

func TestBearerProviderPrefix(t *testing.T) {
	provider := &BearerProvider{}
	result, err := provider.Authenticate(context.Background(), Request{
		Payload:     map[string]string{"prefix": "Token"},
		Credentials: []storage.CredentialRecord{{Key: "token", Value: "tok-1"}},
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := result.Material.Headers["Authorization"]; got != "Token tok-1" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestAPIKeyProviderLocations(t *testing.T) {
	provider := &APIKeyProvider{}
	base := Request{
		Credentials: []storage.CredentialRecord{{Key: "api_key", Value: "k-123"}},
	}

	result, err := provider.Authenticate(context.Background(), base)
	if err != nil {
		t.Fatalf("header location: %v", err)
	}
	if result.Material.Headers["X-API-Key"] != "k-123" {
		t.Fatalf("expected default header injection, got %v", result.Material.Headers)
	}

	base.Payload = map[string]string{"location": "query", "key_name": "apikey"}
	result, err = provider.Authenticate(context.Background(), base)
	if err != nil {
		t.Fatalf("query location: %v", err)
	}
	if result.Material.Query["apikey"] != "k-123" {
		t.Fatalf("expected query injection, got %v", result.Material.Query)
	}

	base.Payload = map[string]string{"location": "socket"}
	if _, err := provider.Authenticate(context.Background(), base); err == nil {
		t.Fatal("expected error for unknown location")
	}
}

func TestDynamicProviderFetch(t *testing.T) {
	var gotAuth string
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"secret":"s3cr3t"}}`))
	}))
	defer source.Close()

	provider := NewDynamicProvider(source.Client())
	result, err := provider.Authenticate(context.Background(), Request{
		Payload: map[string]string{
			"source_url":    source.URL + "/secrets/{lookup}",
			"value_path":    "$.data.secret",
			"header_prefix": "Bearer",
			"ttl_seconds":   "600",
		},
		Credentials: []storage.CredentialRecord{
			{Key: "lookup", Value: "svc-a"},
			{Key: "source_token", Value: "src-tok"},
			{Key: "value", Kind: storage.CredentialExternal},
		},
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if gotAuth != "Bearer src-tok" {
		t.Fatalf("source token not forwarded, got %q", gotAuth)
	}
	if got := result.Material.Headers["Authorization"]; got != "Bearer s3cr3t" {
		t.Fatalf("Authorization = %q", got)
	}
	if result.Material.ExpiresAt.IsZero() {
		t.Fatal("expected ttl_seconds to set an expiry")
	}
	if result.Credential == nil || result.Credential.Value != "s3cr3t" {
		t.Fatalf("expected fetched secret written back to the external slot, got %+v", result.Credential)
	}
}

func TestDynamicProviderSourceErrors(t *testing.T) {
	status := http.StatusInternalServerError
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer source.Close()

	provider := NewDynamicProvider(source.Client())
	request := Request{Payload: map[string]string{"source_url": source.URL}}

	_, err := provider.Authenticate(context.Background(), request)
	if kind, _ := KindOf(err); kind != KindUpstreamAuth {
		t.Fatalf("expected upstream error for 5xx, got %v", err)
	}

	status = http.StatusForbidden
	_, err = provider.Authenticate(context.Background(), request)
	if kind, _ := KindOf(err); kind != KindCredential {
		t.Fatalf("expected credential error for 4xx, got %v", err)
	}
}

func TestParsePayload(t *testing.T) {
	payload, err := ParsePayload(`{"key_name":"X-Key","ttl_seconds":600,"note":null}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload["key_name"] != "X-Key" || payload["ttl_seconds"] != "600" || payload["note"] != "" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	if _, err := ParsePayload(`{broken`); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestMaterialInject(t *testing.T) {
	material := Material{
		Headers: map[string]string{"Authorization": "Bearer fresh", "X-Trace": "gw"},
		Query:   map[string]string{"version": "2"},
	}
	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/pets?version=1", nil)
	req.Header.Set("Authorization", "Bearer caller")
	req.Header.Set("X-Trace", "caller")

	material.Inject(req)

	if got := req.Header.Get("Authorization"); got != "Bearer fresh" {
		t.Fatalf("Authorization must be owned by the scheme, got %q", got)
	}
	if got := req.Header.Get("X-Trace"); got != "caller" {
		t.Fatalf("caller header must be preserved, got %q", got)
	}
	if got := req.URL.Query().Get("version"); got != "1" {
		t.Fatalf("caller query must win, got %q", got)
	}
}

func TestRetryWithBackoffStopsOnFatal(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), func() (Result, error) {
		calls++
		return Result{}, NewError(KindConfig, "broken payload")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("config errors must not be retried, got %d calls", calls)
	}
}
