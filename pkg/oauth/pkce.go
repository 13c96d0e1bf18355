// Package oauth implements the OAuth2 authorization-code flow with PKCE:
// state issuance, single-use callback handling, token persistence and a
// provider that materializes user grants into bearer headers.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Challenge methods accepted on auth configs.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// NewVerifier returns a fresh high-entropy PKCE code verifier.
func NewVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ChallengeFor derives the code challenge for a verifier. An empty method
// defaults to S256.
func ChallengeFor(verifier, method string) (string, error) {
	switch method {
	case "", MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("unsupported challenge method %q", method)
	}
}
