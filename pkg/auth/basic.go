package auth

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/stepflow/gateway/pkg/storage"
)

// BasicProvider injects base64(username:password) as an Authorization header.
type BasicProvider struct{}

func (p *BasicProvider) Scheme() string { return storage.SchemeBasic }

func (p *BasicProvider) Authenticate(_ context.Context, req Request) (Result, error) {
	username := req.Setting("username", "")
	password := ""
	var expiresAt time.Time

	if cred := req.Credential("username"); cred != nil {
		username = cred.Value
	}
	cred := req.Credential("password")
	if cred != nil {
		password = cred.Value
		if cred.ExpiresAt != nil {
			expiresAt = *cred.ExpiresAt
		}
	} else {
		password = req.Setting("password", "")
	}
	if username == "" || password == "" {
		return Result{}, NewError(KindConfig, "basic auth requires username and password")
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		return Result{}, NewError(KindCredential, "basic credential expired with no refresh path")
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return Result{
		Material: Material{
			Headers:   map[string]string{"Authorization": "Basic " + encoded},
			ExpiresAt: expiresAt,
		},
		Method: MethodStatic,
	}, nil
}
