package auth

import (
	"net/http"
	"time"
)

// Acquisition methods recorded on authentication audit rows.
const (
	MethodStatic    = "static"
	MethodCached    = "cached"
	MethodDynamic   = "dynamic"
	MethodRefreshed = "refreshed"
	MethodUserAuth  = "user_auth"
)

// Material is a concrete set of request injections produced by a provider.
// A zero ExpiresAt means the material does not expire.
type Material struct {
	Headers   map[string]string
	Query     map[string]string
	Cookies   map[string]string
	ExpiresAt time.Time
}

// Expired reports whether the material's deadline has passed.
func (m Material) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// Inject merges the material into an outbound request. The Authorization
// header is always owned by the scheme and overrides any caller value;
// other caller-supplied headers of the same name are preserved.
func (m Material) Inject(req *http.Request) {
	for name, value := range m.Headers {
		if name == "Authorization" || req.Header.Get(name) == "" {
			req.Header.Set(name, value)
		}
	}
	if len(m.Query) > 0 {
		query := req.URL.Query()
		for name, value := range m.Query {
			if query.Get(name) == "" {
				query.Set(name, value)
			}
		}
		req.URL.RawQuery = query.Encode()
	}
	for name, value := range m.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}
