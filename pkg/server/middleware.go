package server

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

func applyMiddlewares(handler http.Handler, middlewares []Middleware) http.Handler {
	if handler == nil {
		return nil
	}
	wrapped := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func maxBodyMiddleware(limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
