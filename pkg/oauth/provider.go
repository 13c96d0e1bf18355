package oauth

import (
	"context"
	"log"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/storage"
)

// Provider materializes oauth2 configs. Two grant types: user grants
// completed through the callback flow, and machine client_credentials
// fetched directly from the token endpoint.
type Provider struct {
	Manager *Manager
	Grants  storage.AuthorizationStore
	Logger  *log.Logger
}

// NewProvider returns a provider backed by the flow manager.
func NewProvider(manager *Manager) *Provider {
	return &Provider{Manager: manager, Grants: manager.Grants, Logger: manager.Logger}
}

func (p *Provider) Scheme() string { return storage.SchemeOAuth2 }

func (p *Provider) Authenticate(ctx context.Context, req auth.Request) (auth.Result, error) {
	if strings.EqualFold(req.Setting("grant_type", ""), "client_credentials") {
		return p.clientCredentials(ctx, req)
	}
	return p.userGrant(ctx, req)
}

func (p *Provider) clientCredentials(ctx context.Context, req auth.Request) (auth.Result, error) {
	settings, err := p.Manager.settings(ctx, req.Config)
	if err != nil {
		return auth.Result{}, err
	}
	if settings.clientSecret == "" {
		return auth.Result{}, auth.NewError(auth.KindConfig, "client_credentials requires a client_secret")
	}
	config := &clientcredentials.Config{
		ClientID:     settings.clientID,
		ClientSecret: settings.clientSecret,
		TokenURL:     settings.tokenURL,
	}
	if settings.scope != "" {
		config.Scopes = strings.Fields(settings.scope)
	}
	token, err := config.Token(ctx)
	if err != nil {
		return auth.Result{}, auth.WrapError(auth.KindUpstreamAuth, "client_credentials token fetch failed", err)
	}
	return auth.Result{
		Material: auth.Material{
			Headers:   map[string]string{"Authorization": bearerValue(token.TokenType, token.AccessToken)},
			ExpiresAt: token.Expiry,
		},
		Method: auth.MethodRefreshed,
	}, nil
}

func (p *Provider) userGrant(ctx context.Context, req auth.Request) (auth.Result, error) {
	if req.UserID == "" {
		return auth.Result{}, auth.NewError(auth.KindCredential, "oauth2 user grant requires a user id")
	}
	grant, err := p.Grants.GetAuthorization(ctx, req.UserID, req.Config.DocumentID, req.Config.ID)
	if err != nil {
		return auth.Result{}, auth.WrapError(auth.KindCredential, "loading authorization", err)
	}
	if grant == nil {
		return auth.Result{}, auth.NewError(auth.KindCredential, "no active authorization, authorization flow required")
	}

	method := auth.MethodUserAuth
	if grant.ExpiresAt != nil && time.Now().After(grant.ExpiresAt.Add(-30*time.Second)) {
		refreshed, err := p.Manager.Refresh(ctx, req.Config, *grant)
		if err != nil {
			return auth.Result{}, err
		}
		grant = &refreshed
		method = auth.MethodRefreshed
	}

	if err := p.Grants.TouchAuthorizationUsed(ctx, grant.ID); err != nil {
		p.Logger.Printf("touching authorization id=%s err=%v", grant.ID, err)
	}

	material := auth.Material{
		Headers: map[string]string{"Authorization": bearerValue(grant.TokenType, grant.AccessToken)},
	}
	if grant.ExpiresAt != nil {
		material.ExpiresAt = *grant.ExpiresAt
	}
	return auth.Result{Material: material, Method: method}, nil
}

func bearerValue(tokenType, accessToken string) string {
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return tokenType + " " + accessToken
}
