// Package catalog is the boundary to the API-description collaborator.
// The gateway consumes endpoints and per-document auth configs through the
// Directory interface; parsing and storage of the description documents
// themselves live elsewhere.
package catalog

import (
	"context"
	"strings"

	"github.com/stepflow/gateway/pkg/storage"
)

// Endpoint describes one callable operation of a registered API document.
type Endpoint struct {
	ID           string
	DocumentID   string
	BaseURL      string
	Path         string
	Method       string
	TimeoutMS    int64
	AuthRequired bool
}

// Directory resolves endpoints and the auth configs that govern them.
type Directory interface {
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	FindEndpoint(ctx context.Context, documentID, path, method string) (*Endpoint, error)
	GetAuthConfigsForDocument(ctx context.Context, documentID string) ([]storage.AuthConfigRecord, error)
}

// MatchPath reports whether a path template like /pets/{petId} matches a
// concrete request path.
func MatchPath(pattern, actual string) bool {
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	actualParts := strings.Split(strings.Trim(actual, "/"), "/")
	if len(patternParts) != len(actualParts) {
		return false
	}
	for i, part := range patternParts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			if actualParts[i] == "" {
				return false
			}
			continue
		}
		if part != actualParts[i] {
			return false
		}
	}
	return true
}
