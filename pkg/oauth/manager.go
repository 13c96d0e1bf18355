package oauth

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/storage"
)

// Recorder receives one audit record per handled callback.
type Recorder interface {
	RecordCallback(ctx context.Context, record storage.CallbackLogRecord)
}

// Manager drives the authorization-code flow: it issues single-use states
// with PKCE, exchanges callback codes for tokens and persists the
// resulting grants.
type Manager struct {
	States  storage.AuthStateStore
	Grants  storage.AuthorizationStore
	Configs storage.AuthConfigStore
	Audit   Recorder
	Logger  *log.Logger

	// StateTTL bounds how long an issued state stays redeemable.
	StateTTL time.Duration
	// Endpoint is the public base URL used to build the default redirect URI.
	Endpoint     string
	DefaultScope string
}

// NewManager returns a flow manager over the given stores.
func NewManager(states storage.AuthStateStore, grants storage.AuthorizationStore, configs storage.AuthConfigStore, audit Recorder) *Manager {
	return &Manager{
		States:   states,
		Grants:   grants,
		Configs:  configs,
		Audit:    audit,
		Logger:   log.Default(),
		StateTTL: 10 * time.Minute,
	}
}

// clientSettings is the oauth2 scheme payload plus the client secret
// resolved from the config's credentials.
type clientSettings struct {
	clientID        string
	clientSecret    string
	authURL         string
	tokenURL        string
	scope           string
	redirectURI     string
	challengeMethod string
}

func (m *Manager) settings(ctx context.Context, config storage.AuthConfigRecord) (clientSettings, error) {
	payload, err := auth.ParsePayload(config.ConfigJSON)
	if err != nil {
		return clientSettings{}, err
	}
	settings := clientSettings{
		clientID:        strings.TrimSpace(payload["client_id"]),
		clientSecret:    strings.TrimSpace(payload["client_secret"]),
		authURL:         strings.TrimSpace(payload["authorization_url"]),
		tokenURL:        strings.TrimSpace(payload["token_url"]),
		scope:           strings.TrimSpace(payload["scope"]),
		redirectURI:     strings.TrimSpace(payload["redirect_uri"]),
		challengeMethod: strings.TrimSpace(payload["challenge_method"]),
	}
	if m.Configs != nil {
		if cred, err := m.Configs.GetCredential(ctx, config.ID, "client_secret"); err == nil && cred != nil {
			settings.clientSecret = cred.Value
		}
	}
	if settings.clientID == "" || settings.tokenURL == "" {
		return clientSettings{}, auth.NewError(auth.KindConfig, "oauth2 config requires client_id and token_url")
	}
	if settings.scope == "" {
		settings.scope = m.DefaultScope
	}
	if settings.redirectURI == "" {
		settings.redirectURI = strings.TrimRight(m.Endpoint, "/") + "/oauth2/callback"
	}
	if settings.challengeMethod == "" {
		settings.challengeMethod = MethodS256
	}
	return settings, nil
}

func (s clientSettings) oauthConfig() *oauth2.Config {
	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		RedirectURL:  s.redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.authURL,
			TokenURL: s.tokenURL,
		},
	}
	if s.scope != "" {
		config.Scopes = strings.Fields(s.scope)
	}
	return config
}

// Authorization is the outcome of BeginAuthorization.
type Authorization struct {
	StateID      string
	State        string
	AuthorizeURL string
	ExpiresAt    time.Time
}

// BeginAuthorization issues a single-use state with a PKCE pair and
// returns the provider authorize URL to redirect the user to.
func (m *Manager) BeginAuthorization(ctx context.Context, configID, documentID, userID string) (*Authorization, error) {
	config, err := m.Configs.GetAuthConfig(ctx, configID)
	if err != nil {
		return nil, auth.WrapError(auth.KindConfig, "loading auth config", err)
	}
	if config == nil || config.Status != storage.StatusActive {
		return nil, auth.NewError(auth.KindConfig, "auth config not found or inactive")
	}
	if config.Scheme != storage.SchemeOAuth2 {
		return nil, auth.NewError(auth.KindConfig, "auth config is not an oauth2 scheme")
	}
	settings, err := m.settings(ctx, *config)
	if err != nil {
		return nil, err
	}
	if settings.authURL == "" {
		return nil, auth.NewError(auth.KindConfig, "oauth2 config requires an authorization_url")
	}

	verifier, err := NewVerifier()
	if err != nil {
		return nil, auth.WrapError(auth.KindConfig, "generating pkce verifier", err)
	}
	challenge, err := ChallengeFor(verifier, settings.challengeMethod)
	if err != nil {
		return nil, auth.WrapError(auth.KindConfig, "deriving pkce challenge", err)
	}

	record := storage.AuthStateRecord{
		ID:              uuid.NewString(),
		AuthConfigID:    config.ID,
		DocumentID:      documentID,
		UserID:          userID,
		State:           uuid.NewString(),
		CodeVerifier:    verifier,
		CodeChallenge:   challenge,
		ChallengeMethod: settings.challengeMethod,
		RedirectURI:     settings.redirectURI,
		Scope:           settings.scope,
		ClientID:        settings.clientID,
		ExpiresAt:       time.Now().Add(m.StateTTL).UTC(),
	}
	if err := m.States.CreateAuthState(ctx, record); err != nil {
		return nil, auth.WrapError(auth.KindOAuthState, "persisting auth state", err)
	}

	options := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", settings.challengeMethod),
	}
	return &Authorization{
		StateID:      record.ID,
		State:        record.State,
		AuthorizeURL: settings.oauthConfig().AuthCodeURL(record.State, options...),
		ExpiresAt:    record.ExpiresAt,
	}, nil
}

// Callback is the provider redirect payload as received by the gateway.
type Callback struct {
	State            string
	Code             string
	ErrorCode        string
	ErrorDescription string
	ClientIP         string
}

// Grant is the persisted outcome of a successful callback.
type Grant struct {
	AuthorizationID string
	UserID          string
	DocumentID      string
	ExpiresAt       *time.Time
}

// HandleCallback redeems a state exactly once: it validates the state,
// exchanges the code with the stored PKCE verifier and persists the grant.
// Every outcome, including failures, leaves a callback audit record.
func (m *Manager) HandleCallback(ctx context.Context, callback Callback) (*Grant, error) {
	start := time.Now()

	state, err := m.States.GetAuthStateByState(ctx, callback.State)
	if err != nil {
		return nil, auth.WrapError(auth.KindOAuthState, "loading auth state", err)
	}
	if state == nil {
		return nil, m.failCallback(ctx, nil, callback, start, "unknown state")
	}
	if state.Consumed {
		return nil, m.failCallback(ctx, state, callback, start, "state already consumed")
	}
	if time.Now().After(state.ExpiresAt) {
		m.consume(ctx, state.ID)
		return nil, m.failCallback(ctx, state, callback, start, "state expired")
	}
	if callback.ErrorCode != "" {
		m.consume(ctx, state.ID)
		message := "provider returned " + callback.ErrorCode
		if callback.ErrorDescription != "" {
			message += ": " + callback.ErrorDescription
		}
		return nil, m.failCallback(ctx, state, callback, start, message)
	}
	if callback.Code == "" {
		m.consume(ctx, state.ID)
		return nil, m.failCallback(ctx, state, callback, start, "callback missing authorization code")
	}

	consumed, err := m.States.ConsumeAuthState(ctx, state.ID)
	if err != nil {
		return nil, auth.WrapError(auth.KindOAuthState, "consuming auth state", err)
	}
	if !consumed {
		return nil, m.failCallback(ctx, state, callback, start, "state already consumed")
	}

	config, err := m.Configs.GetAuthConfig(ctx, state.AuthConfigID)
	if err != nil || config == nil {
		return nil, m.failCallback(ctx, state, callback, start, "auth config no longer exists")
	}
	settings, err := m.settings(ctx, *config)
	if err != nil {
		return nil, m.failCallback(ctx, state, callback, start, err.Error())
	}
	// The exchange must use the exact redirect URI the state was issued
	// with, not whatever the config says now.
	settings.redirectURI = state.RedirectURI

	token, err := settings.oauthConfig().Exchange(ctx, callback.Code,
		oauth2.SetAuthURLParam("code_verifier", state.CodeVerifier))
	if err != nil {
		return nil, m.failCallback(ctx, state, callback, start, "code exchange failed: "+err.Error())
	}

	record := storage.AuthorizationRecord{
		UserID:       state.UserID,
		DocumentID:   state.DocumentID,
		AuthConfigID: state.AuthConfigID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        state.Scope,
		Active:       true,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		record.ExpiresAt = &expiry
	}
	if subject, ok := token.Extra("sub").(string); ok {
		record.ProviderSubject = subject
	}
	saved, err := m.Grants.UpsertAuthorization(ctx, record)
	if err != nil {
		return nil, m.failCallback(ctx, state, callback, start, "persisting authorization: "+err.Error())
	}

	m.recordCallback(ctx, storage.CallbackLogRecord{
		AuthStateID:     state.ID,
		UserID:          state.UserID,
		Status:          "success",
		TokenResponse:   tokenForensics(token),
		ProviderSubject: record.ProviderSubject,
		ClientIP:        callback.ClientIP,
		LatencyMS:       time.Since(start).Milliseconds(),
	})
	return &Grant{
		AuthorizationID: saved.ID,
		UserID:          saved.UserID,
		DocumentID:      saved.DocumentID,
		ExpiresAt:       saved.ExpiresAt,
	}, nil
}

// Refresh exchanges a grant's refresh token for new tokens. A rejected
// refresh deactivates the grant so the user is sent back through the flow.
func (m *Manager) Refresh(ctx context.Context, config storage.AuthConfigRecord, grant storage.AuthorizationRecord) (storage.AuthorizationRecord, error) {
	if grant.RefreshToken == "" {
		return grant, auth.NewError(auth.KindCredential, "authorization expired and has no refresh token")
	}
	settings, err := m.settings(ctx, config)
	if err != nil {
		return grant, err
	}

	seed := &oauth2.Token{RefreshToken: grant.RefreshToken}
	token, err := settings.oauthConfig().TokenSource(ctx, seed).Token()
	if err != nil {
		if deactivateErr := m.Grants.DeactivateAuthorization(ctx, grant.ID); deactivateErr != nil {
			m.Logger.Printf("deactivating authorization id=%s err=%v", grant.ID, deactivateErr)
		}
		return grant, auth.WrapError(auth.KindCredential, "token refresh rejected, re-authorization required", err)
	}

	grant.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		grant.RefreshToken = token.RefreshToken
	}
	grant.TokenType = token.TokenType
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		grant.ExpiresAt = &expiry
	}
	grant.Active = true
	return m.Grants.UpsertAuthorization(ctx, grant)
}

// SweepExpiredStates deletes redeemable states past their deadline until
// the context is cancelled.
func (m *Manager) SweepExpiredStates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.States.DeleteExpiredAuthStates(ctx, time.Now().UTC())
			if err != nil {
				m.Logger.Printf("sweeping expired auth states err=%v", err)
				continue
			}
			if removed > 0 {
				m.Logger.Printf("swept expired auth states count=%d", removed)
			}
		}
	}
}

func (m *Manager) consume(ctx context.Context, id string) {
	if _, err := m.States.ConsumeAuthState(ctx, id); err != nil {
		m.Logger.Printf("consuming auth state id=%s err=%v", id, err)
	}
}

func (m *Manager) failCallback(ctx context.Context, state *storage.AuthStateRecord, callback Callback, start time.Time, message string) error {
	failure := auth.NewError(auth.KindOAuthState, message)
	record := storage.CallbackLogRecord{
		Status:       "failure",
		ClientIP:     callback.ClientIP,
		LatencyMS:    time.Since(start).Milliseconds(),
		ErrorMessage: message,
	}
	if state != nil {
		record.AuthStateID = state.ID
		record.UserID = state.UserID
	}
	m.recordCallback(ctx, record)
	return failure
}

func (m *Manager) recordCallback(ctx context.Context, record storage.CallbackLogRecord) {
	if m.Audit == nil {
		return
	}
	m.Audit.RecordCallback(ctx, record)
}

// tokenForensics renders a token response for the encrypted callback log.
// The raw access token is kept; the log store seals it at rest.
func tokenForensics(token *oauth2.Token) string {
	payload := map[string]interface{}{
		"token_type":   token.TokenType,
		"expiry":       token.Expiry,
		"has_refresh":  token.RefreshToken != "",
		"access_token": token.AccessToken,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}
