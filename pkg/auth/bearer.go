package auth

import (
	"context"
	"time"

	"github.com/stepflow/gateway/pkg/storage"
)

// BearerProvider injects a stored token as Authorization: <prefix> <token>.
// No network call, but still expiry-aware.
type BearerProvider struct{}

func (p *BearerProvider) Scheme() string { return storage.SchemeBearer }

func (p *BearerProvider) Authenticate(_ context.Context, req Request) (Result, error) {
	cred := req.Credential("token")
	if cred == nil || cred.Value == "" {
		return Result{}, NewError(KindConfig, "bearer auth requires a token credential")
	}
	var expiresAt time.Time
	if cred.ExpiresAt != nil {
		expiresAt = *cred.ExpiresAt
		if time.Now().After(expiresAt) {
			return Result{}, NewError(KindCredential, "bearer token expired with no refresh path")
		}
	}
	prefix := req.Setting("prefix", "Bearer")
	return Result{
		Material: Material{
			Headers:   map[string]string{"Authorization": prefix + " " + cred.Value},
			ExpiresAt: expiresAt,
		},
		Method: MethodStatic,
	}, nil
}
