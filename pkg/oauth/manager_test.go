package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stepflow/gateway/pkg/auth"
	"github.com/stepflow/gateway/pkg/storage"
)

type callbackRecorder struct {
	mu      sync.Mutex
	records []storage.CallbackLogRecord
}

func (r *callbackRecorder) RecordCallback(_ context.Context, record storage.CallbackLogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *callbackRecorder) last(t *testing.T) storage.CallbackLogRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		t.Fatal("expected a callback audit record")
	}
	return r.records[len(r.records)-1]
}

// tokenEndpoint fakes a provider token endpoint that validates PKCE.
func tokenEndpoint(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var lastVerifier string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lastVerifier = r.PostFormValue("code_verifier")
		if r.PostFormValue("grant_type") == "refresh_token" && r.PostFormValue("refresh_token") != "rt-valid" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-fresh",
			"refresh_token": "rt-valid",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)
	return server, &lastVerifier
}

func managerFixture(t *testing.T, tokenURL string) (*Manager, *callbackRecorder, storage.AuthConfigRecord) {
	t.Helper()
	configs := storage.NewMockAuthConfigStore()
	payload := fmt.Sprintf(`{"client_id":"client-1","client_secret":"secret-1","authorization_url":"https://idp.example.com/authorize","token_url":%q,"scope":"read write"}`, tokenURL)
	config, err := configs.UpsertAuthConfig(context.Background(), storage.AuthConfigRecord{
		DocumentID: "doc-1",
		Scheme:     storage.SchemeOAuth2,
		ConfigJSON: payload,
		Global:     true,
	})
	if err != nil {
		t.Fatalf("seeding config: %v", err)
	}

	audit := &callbackRecorder{}
	manager := NewManager(storage.NewMockAuthStateStore(), storage.NewMockAuthorizationStore(), configs, audit)
	manager.Endpoint = "https://gateway.example.com"
	return manager, audit, config
}

func TestBeginAuthorization(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, _, config := managerFixture(t, server.URL)

	begun, err := manager.BeginAuthorization(context.Background(), config.ID, "doc-1", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	parsed, err := url.Parse(begun.AuthorizeURL)
	if err != nil {
		t.Fatalf("parsing authorize url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != begun.State {
		t.Fatalf("state mismatch: %q vs %q", query.Get("state"), begun.State)
	}
	if query.Get("code_challenge_method") != MethodS256 {
		t.Fatalf("challenge method = %q", query.Get("code_challenge_method"))
	}
	if query.Get("code_challenge") == "" || query.Get("code_challenge") == query.Get("state") {
		t.Fatal("missing code challenge")
	}
	if query.Get("redirect_uri") != "https://gateway.example.com/oauth2/callback" {
		t.Fatalf("redirect_uri = %q", query.Get("redirect_uri"))
	}

	state, err := manager.States.GetAuthStateByState(context.Background(), begun.State)
	if err != nil || state == nil {
		t.Fatalf("state not persisted: %v", err)
	}
	sum := sha256.Sum256([]byte(state.CodeVerifier))
	if query.Get("code_challenge") != base64.RawURLEncoding.EncodeToString(sum[:]) {
		t.Fatal("challenge does not derive from the stored verifier")
	}
}

func TestHandleCallbackSuccess(t *testing.T) {
	server, verifier := tokenEndpoint(t)
	manager, audit, config := managerFixture(t, server.URL)
	ctx := context.Background()

	begun, err := manager.BeginAuthorization(ctx, config.ID, "doc-1", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	grant, err := manager.HandleCallback(ctx, Callback{State: begun.State, Code: "code-1", ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if grant.UserID != "user-1" || grant.DocumentID != "doc-1" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if *verifier == "" {
		t.Fatal("code_verifier was not sent on exchange")
	}

	stored, err := manager.Grants.GetAuthorization(ctx, "user-1", "doc-1", config.ID)
	if err != nil || stored == nil {
		t.Fatalf("authorization not persisted: %v", err)
	}
	if stored.AccessToken != "at-fresh" || stored.RefreshToken != "rt-valid" {
		t.Fatalf("unexpected tokens: %+v", stored)
	}

	record := audit.last(t)
	if record.Status != "success" || record.ClientIP != "10.0.0.1" {
		t.Fatalf("unexpected callback record: %+v", record)
	}
}

func TestHandleCallbackSingleUse(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, audit, config := managerFixture(t, server.URL)
	ctx := context.Background()

	begun, err := manager.BeginAuthorization(ctx, config.ID, "doc-1", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := manager.HandleCallback(ctx, Callback{State: begun.State, Code: "code-1"}); err != nil {
		t.Fatalf("first callback: %v", err)
	}

	_, err = manager.HandleCallback(ctx, Callback{State: begun.State, Code: "code-1"})
	if err == nil {
		t.Fatal("expected replay to fail")
	}
	if kind, _ := auth.KindOf(err); kind != auth.KindOAuthState {
		t.Fatalf("expected oauth state error, got %v", err)
	}
	if record := audit.last(t); record.Status != "failure" {
		t.Fatalf("replay must leave a failure record, got %+v", record)
	}
}

func TestHandleCallbackExpiredState(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, _, config := managerFixture(t, server.URL)
	manager.StateTTL = -time.Minute
	ctx := context.Background()

	begun, err := manager.BeginAuthorization(ctx, config.ID, "doc-1", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err = manager.HandleCallback(ctx, Callback{State: begun.State, Code: "code-1"})
	if kind, _ := auth.KindOf(err); kind != auth.KindOAuthState {
		t.Fatalf("expected oauth state error for expired state, got %v", err)
	}

	// The state is burned even though the exchange never ran.
	state, _ := manager.States.GetAuthStateByState(ctx, begun.State)
	if state == nil || !state.Consumed {
		t.Fatalf("expired state must be consumed, got %+v", state)
	}
}

func TestHandleCallbackExchangeUsesInitiationRedirect(t *testing.T) {
	var exchangedRedirect string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		exchangedRedirect = r.PostFormValue("redirect_uri")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-fresh",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(server.Close)

	manager, _, config := managerFixture(t, server.URL)
	ctx := context.Background()

	begun, err := manager.BeginAuthorization(ctx, config.ID, "doc-1", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// The config's redirect moves between initiation and callback. The
	// exchange must still present the redirect the flow started with.
	config.ConfigJSON = fmt.Sprintf(`{"client_id":"client-1","client_secret":"secret-1","authorization_url":"https://idp.example.com/authorize","token_url":%q,"redirect_uri":"https://moved.example.com/cb"}`, server.URL)
	if _, err := manager.Configs.UpsertAuthConfig(ctx, config); err != nil {
		t.Fatalf("updating config: %v", err)
	}

	if _, err := manager.HandleCallback(ctx, Callback{State: begun.State, Code: "code-1"}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if exchangedRedirect != "https://gateway.example.com/oauth2/callback" {
		t.Fatalf("exchange redirect_uri = %q, want the initiation-time value", exchangedRedirect)
	}
}

func TestHandleCallbackUnknownState(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, audit, _ := managerFixture(t, server.URL)

	_, err := manager.HandleCallback(context.Background(), Callback{State: "forged", Code: "code-1"})
	if kind, _ := auth.KindOf(err); kind != auth.KindOAuthState {
		t.Fatalf("expected oauth state error, got %v", err)
	}
	if record := audit.last(t); record.Status != "failure" {
		t.Fatalf("unknown state must leave a failure record, got %+v", record)
	}
}

func TestHandleCallbackProviderError(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, audit, config := managerFixture(t, server.URL)
	ctx := context.Background()

	begun, err := manager.BeginAuthorization(ctx, config.ID, "doc-1", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err = manager.HandleCallback(ctx, Callback{
		State:            begun.State,
		ErrorCode:        "access_denied",
		ErrorDescription: "user cancelled",
	})
	if err == nil {
		t.Fatal("expected provider error to surface")
	}
	record := audit.last(t)
	if record.Status != "failure" || record.ErrorMessage == "" {
		t.Fatalf("unexpected callback record: %+v", record)
	}

	// Denied states are burned too.
	state, _ := manager.States.GetAuthStateByState(ctx, begun.State)
	if state == nil || !state.Consumed {
		t.Fatal("denied state must be consumed")
	}
}

func TestRefreshDeactivatesOnRejection(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, _, config := managerFixture(t, server.URL)
	ctx := context.Background()

	expiry := time.Now().Add(-time.Minute)
	grant, err := manager.Grants.UpsertAuthorization(ctx, storage.AuthorizationRecord{
		UserID:       "user-1",
		DocumentID:   "doc-1",
		AuthConfigID: config.ID,
		AccessToken:  "at-old",
		RefreshToken: "rt-revoked",
		ExpiresAt:    &expiry,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("seeding grant: %v", err)
	}

	_, err = manager.Refresh(ctx, config, grant)
	if kind, _ := auth.KindOf(err); kind != auth.KindCredential {
		t.Fatalf("expected credential error, got %v", err)
	}

	if active, _ := manager.Grants.GetAuthorization(ctx, "user-1", "doc-1", config.ID); active != nil {
		t.Fatalf("rejected refresh must deactivate the grant, got %+v", active)
	}
}

func TestProviderUserGrantRefresh(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, _, config := managerFixture(t, server.URL)
	provider := NewProvider(manager)
	ctx := context.Background()

	expiry := time.Now().Add(10 * time.Second)
	if _, err := manager.Grants.UpsertAuthorization(ctx, storage.AuthorizationRecord{
		UserID:       "user-1",
		DocumentID:   "doc-1",
		AuthConfigID: config.ID,
		AccessToken:  "at-old",
		RefreshToken: "rt-valid",
		TokenType:    "Bearer",
		ExpiresAt:    &expiry,
		Active:       true,
	}); err != nil {
		t.Fatalf("seeding grant: %v", err)
	}

	result, err := provider.Authenticate(ctx, auth.Request{Config: config, UserID: "user-1"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Method != auth.MethodRefreshed {
		t.Fatalf("expected a proactive refresh, got method %q", result.Method)
	}
	if result.Material.Headers["Authorization"] != "Bearer at-fresh" {
		t.Fatalf("Authorization = %q", result.Material.Headers["Authorization"])
	}
}

func TestProviderUserGrantMissing(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, _, config := managerFixture(t, server.URL)
	provider := NewProvider(manager)

	_, err := provider.Authenticate(context.Background(), auth.Request{Config: config, UserID: "user-2"})
	if kind, _ := auth.KindOf(err); kind != auth.KindCredential {
		t.Fatalf("expected credential error for missing grant, got %v", err)
	}
}

func TestProviderClientCredentials(t *testing.T) {
	server, _ := tokenEndpoint(t)
	manager, _, config := managerFixture(t, server.URL)
	provider := NewProvider(manager)

	payload, err := auth.ParsePayload(config.ConfigJSON)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	payload["grant_type"] = "client_credentials"

	result, err := provider.Authenticate(context.Background(), auth.Request{Config: config, Payload: payload})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Material.Headers["Authorization"] != "Bearer at-fresh" {
		t.Fatalf("Authorization = %q", result.Material.Headers["Authorization"])
	}
	if result.Material.ExpiresAt.IsZero() {
		t.Fatal("expected expires_in to set an expiry")
	}
}

func TestChallengeFor(t *testing.T) {
	verifier, err := NewVerifier()
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if len(verifier) < 43 {
		t.Fatalf("verifier too short: %d", len(verifier))
	}

	challenge, err := ChallengeFor(verifier, MethodS256)
	if err != nil {
		t.Fatalf("s256: %v", err)
	}
	sum := sha256.Sum256([]byte(verifier))
	if challenge != base64.RawURLEncoding.EncodeToString(sum[:]) {
		t.Fatal("s256 challenge mismatch")
	}

	plain, err := ChallengeFor(verifier, MethodPlain)
	if err != nil || plain != verifier {
		t.Fatalf("plain challenge mismatch: %v", err)
	}

	if _, err := ChallengeFor(verifier, "md5"); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
