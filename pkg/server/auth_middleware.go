package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/stepflow/gateway/pkg/auth/oidcauth"
)

type claimsKey struct{}

// callerSubject returns the verified caller identity, empty when inbound
// auth is disabled.
func callerSubject(ctx context.Context) string {
	if claims, ok := ctx.Value(claimsKey{}).(*oidcauth.Claims); ok {
		return claims.Subject
	}
	return ""
}

// authMiddleware rejects requests without a valid bearer token. A nil
// verifier disables inbound auth entirely.
func authMiddleware(verifier *oidcauth.Verifier, logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
				return
			}
			token := strings.TrimSpace(header[len("bearer "):])
			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Printf("inbound auth rejected path=%s err=%v", r.URL.Path, err)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid bearer token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
