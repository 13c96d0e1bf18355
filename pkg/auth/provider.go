package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/stepflow/gateway/pkg/storage"
)

// Request carries everything a provider needs to materialize auth for one
// config: the config row, its parsed payload, the decrypted credentials
// and the calling user (relevant for OAuth2 grants).
type Request struct {
	Config      storage.AuthConfigRecord
	Payload     map[string]string
	Credentials []storage.CredentialRecord
	UserID      string
}

// Credential returns the credential stored under a key, nil when absent.
func (r Request) Credential(key string) *storage.CredentialRecord {
	for i := range r.Credentials {
		if r.Credentials[i].Key == key {
			return &r.Credentials[i]
		}
	}
	return nil
}

// Setting returns a payload value with a fallback.
func (r Request) Setting(key, fallback string) string {
	if value, ok := r.Payload[key]; ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// Result is the outcome of a provider authentication. Credential, when
// non-nil, carries refreshed credential material the caller should persist.
type Result struct {
	Material   Material
	Method     string
	Credential *storage.CredentialRecord
}

// Provider turns a config plus credentials into concrete request
// injections. Adding a scheme means adding a Provider, the resolver and
// cache stay untouched.
type Provider interface {
	Scheme() string
	Authenticate(ctx context.Context, req Request) (Result, error)
}

// Registry maps scheme names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider for its scheme.
func (r *Registry) Register(provider Provider) {
	if provider == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(provider.Scheme())] = provider
}

// Provider returns the provider for a scheme.
func (r *Registry) Provider(scheme string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[strings.ToLower(strings.TrimSpace(scheme))]
	return provider, ok
}

// DefaultRegistry returns a registry with the static schemes registered.
// OAuth2 is wired separately because it needs stores and a flow manager.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(&BasicProvider{})
	registry.Register(&BearerProvider{})
	registry.Register(&APIKeyProvider{})
	registry.Register(NewDynamicProvider(nil))
	return registry
}

// ParsePayload decodes the opaque scheme payload into a flat string map.
// Non-string values are rendered with their default JSON formatting.
func ParsePayload(configJSON string) (map[string]string, error) {
	payload := make(map[string]string)
	configJSON = strings.TrimSpace(configJSON)
	if configJSON == "" {
		return payload, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return nil, WrapError(KindConfig, "malformed scheme payload", err)
	}
	for key, value := range raw {
		switch typed := value.(type) {
		case string:
			payload[key] = typed
		case nil:
			payload[key] = ""
		default:
			payload[key] = fmt.Sprintf("%v", typed)
		}
	}
	return payload, nil
}
