package storage

import (
	"context"
	"time"
)

// Auth scheme values stored on AuthConfigRecord.
const (
	SchemeNone    = "none"
	SchemeBasic   = "basic"
	SchemeBearer  = "bearer"
	SchemeAPIKey  = "api_key"
	SchemeOAuth2  = "oauth2"
	SchemeDynamic = "dynamic"
)

// AuthConfig lifecycle status values.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
	StatusDeleted  = "deleted"
)

// Credential kinds.
const (
	CredentialStatic   = "static"
	CredentialTemplate = "dynamic_template"
	CredentialExternal = "external"
)

// AuthConfigRecord stores an authentication scheme bound to an API document.
// EndpointID is empty for global configs; a non-empty EndpointID scopes the
// config to a single endpoint and takes precedence over global configs.
type AuthConfigRecord struct {
	ID         string
	DocumentID string
	EndpointID string
	Scheme     string
	ConfigJSON string
	Required   bool
	Global     bool
	Priority   int
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CredentialRecord stores one credential belonging to an AuthConfig.
// Value is encrypted at rest; Version is bumped on every value update so
// derived cache entries can be fingerprinted and invalidated.
type CredentialRecord struct {
	ID                 string
	AuthConfigID       string
	Kind               string
	Key                string
	Value              string
	Version            int64
	ExpiresAt          *time.Time
	RefreshLeadSeconds int64
	LastRefreshedAt    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AuthStateRecord stores one in-flight OAuth2 authorization attempt.
// Single-use: Consumed flips exactly once, on callback completion or failure.
type AuthStateRecord struct {
	ID              string
	AuthConfigID    string
	DocumentID      string
	UserID          string
	State           string
	CodeVerifier    string
	CodeChallenge   string
	ChallengeMethod string
	RedirectURI     string
	Scope           string
	ClientID        string
	Consumed        bool
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// AuthorizationRecord stores a completed OAuth2 grant for one
// (user, document, auth config) triple. Tokens are encrypted at rest.
type AuthorizationRecord struct {
	ID              string
	UserID          string
	DocumentID      string
	AuthConfigID    string
	AccessToken     string
	RefreshToken    string
	TokenType       string
	ExpiresAt       *time.Time
	Scope           string
	ProviderSubject string
	Active          bool
	LastUsedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuthLogRecord stores one authentication attempt.
type AuthLogRecord struct {
	ID           string
	AuthConfigID string
	Scheme       string
	Status       string
	Method       string
	LatencyMS    int64
	ClientIP     string
	ErrorMessage string
	CreatedAt    time.Time
}

// CallLogRecord stores one outbound call execution. StatusCode is zero for
// transport-level failures; ErrorType is set instead.
type CallLogRecord struct {
	ID            string
	EndpointID    string
	DocumentID    string
	Method        string
	URL           string
	RequestBody   string
	ResponseBody  string
	HeadersJSON   string
	StatusCode    int
	RequestBytes  int64
	ResponseBytes int64
	LatencyMS     int64
	ErrorType     string
	ErrorMessage  string
	CreatedAt     time.Time
}

// CallbackLogRecord stores one OAuth2 callback outcome. TokenResponse is
// encrypted at rest and kept for forensics.
type CallbackLogRecord struct {
	ID              string
	AuthStateID     string
	UserID          string
	Status          string
	TokenResponse   string
	ProviderSubject string
	ClientIP        string
	LatencyMS       int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// EndpointStats holds the rolling counters for one endpoint.
type EndpointStats struct {
	EndpointID        string
	CallCount         int64
	SuccessCount      int64
	ErrorCount        int64
	AvgResponseTimeMS float64
	UpdatedAt         time.Time
}

// CallLogFilter selects call log rows.
type CallLogFilter struct {
	EndpointID string
	DocumentID string
	ErrorsOnly bool
	Limit      int
}

// AuthConfigStore persists auth configs and their credentials.
type AuthConfigStore interface {
	UpsertAuthConfig(ctx context.Context, record AuthConfigRecord) (AuthConfigRecord, error)
	GetAuthConfig(ctx context.Context, id string) (*AuthConfigRecord, error)
	ListAuthConfigs(ctx context.Context, documentID string) ([]AuthConfigRecord, error)
	DeleteAuthConfig(ctx context.Context, id string) error

	UpsertCredential(ctx context.Context, record CredentialRecord) (CredentialRecord, error)
	GetCredential(ctx context.Context, authConfigID, key string) (*CredentialRecord, error)
	ListCredentials(ctx context.Context, authConfigID string) ([]CredentialRecord, error)
	MarkCredentialRefreshed(ctx context.Context, id, value string, expiresAt *time.Time) error
}

// AuthStateStore persists in-flight OAuth2 authorization states.
type AuthStateStore interface {
	CreateAuthState(ctx context.Context, record AuthStateRecord) error
	GetAuthStateByState(ctx context.Context, state string) (*AuthStateRecord, error)
	ConsumeAuthState(ctx context.Context, id string) (bool, error)
	DeleteExpiredAuthStates(ctx context.Context, before time.Time) (int64, error)
}

// AuthorizationStore persists completed OAuth2 grants.
type AuthorizationStore interface {
	UpsertAuthorization(ctx context.Context, record AuthorizationRecord) (AuthorizationRecord, error)
	GetAuthorization(ctx context.Context, userID, documentID, authConfigID string) (*AuthorizationRecord, error)
	DeactivateAuthorization(ctx context.Context, id string) error
	TouchAuthorizationUsed(ctx context.Context, id string) error
}

// AuditStore persists authentication attempts, call logs and the rolling
// endpoint statistics they feed.
type AuditStore interface {
	CreateAuthLogs(ctx context.Context, records []AuthLogRecord) error
	CreateCallLogs(ctx context.Context, records []CallLogRecord) error
	CreateCallbackLogs(ctx context.Context, records []CallbackLogRecord) error
	ListRecentCalls(ctx context.Context, filter CallLogFilter) ([]CallLogRecord, error)
	ListRecentAuthAttempts(ctx context.Context, limit int) ([]AuthLogRecord, error)
	RecordCallOutcome(ctx context.Context, endpointID string, statusCode int, hasStatus bool, latencyMS int64) error
	GetEndpointStats(ctx context.Context, endpointID string) (*EndpointStats, error)
	ListEndpointStats(ctx context.Context, limit int) ([]EndpointStats, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
