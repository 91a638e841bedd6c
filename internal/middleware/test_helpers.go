package middleware

import (
	"context"
	"net/http"
)

// WithClientKeyForTest attaches a sandbox key to the request context for testing.
func WithClientKeyForTest(r *http.Request, key string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), clientKeyContextKey, key))
}
