// Package auth implements authentication resolution and materialization
// for outbound API calls: one provider per scheme, a deterministic
// resolver, and a single-flight materialized cache.
package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a failure for callers and for audit correlation.
type Kind string

const (
	// KindConfig marks a malformed or missing auth config. Fatal, not retried.
	KindConfig Kind = "config_error"
	// KindCredential marks an expired, unrefreshable or undecryptable credential.
	KindCredential Kind = "credential_error"
	// KindUpstreamAuth marks an unreachable or rejecting token endpoint. Retryable.
	KindUpstreamAuth Kind = "upstream_auth_error"
	// KindOAuthState marks a missing, expired or replayed OAuth2 state or code.
	// Security relevant, never silently ignored.
	KindOAuthState Kind = "oauth_state_error"
	// KindProxyTransport marks an unreachable target API.
	KindProxyTransport Kind = "proxy_transport_error"
)

// Error is a classified failure with a reference id for audit correlation.
// Messages never contain raw credential material.
type Error struct {
	Kind    Kind
	Ref     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v (ref=%s)", e.Kind, e.Message, e.Err, e.Ref)
	}
	return fmt.Sprintf("%s: %s (ref=%s)", e.Kind, e.Message, e.Ref)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error with a fresh reference id.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Ref: uuid.NewString(), Message: message}
}

// WrapError wraps a cause with a classification and a fresh reference id.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Ref: uuid.NewString(), Message: message, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors report as upstream failures, the retry-safe default is not
// assumed for them.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}
	return "", false
}

// RefOf extracts the audit reference id from an error chain.
func RefOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Ref
	}
	return ""
}

// Retryable reports whether the failure may be retried with backoff.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindUpstreamAuth
}
