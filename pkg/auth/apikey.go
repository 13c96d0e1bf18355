package auth

import (
	"context"
	"strings"
	"time"

	"github.com/stepflow/gateway/pkg/storage"
)

// APIKeyProvider injects a key at a configurable location (header, query
// or cookie) under a configurable name.
type APIKeyProvider struct{}

func (p *APIKeyProvider) Scheme() string { return storage.SchemeAPIKey }

func (p *APIKeyProvider) Authenticate(_ context.Context, req Request) (Result, error) {
	cred := req.Credential("api_key")
	value := ""
	var expiresAt time.Time
	if cred != nil {
		value = cred.Value
		if cred.ExpiresAt != nil {
			expiresAt = *cred.ExpiresAt
		}
	} else {
		value = req.Setting("key_value", "")
	}
	if value == "" {
		return Result{}, NewError(KindConfig, "api_key auth requires a key credential")
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		return Result{}, NewError(KindCredential, "api key expired with no refresh path")
	}

	name := req.Setting("key_name", "X-API-Key")
	material := Material{ExpiresAt: expiresAt}
	switch strings.ToLower(req.Setting("location", "header")) {
	case "header":
		material.Headers = map[string]string{name: value}
	case "query":
		material.Query = map[string]string{name: value}
	case "cookie":
		material.Cookies = map[string]string{name: value}
	default:
		return Result{}, NewError(KindConfig, "api_key location must be header, query or cookie")
	}
	return Result{Material: material, Method: MethodStatic}, nil
}
