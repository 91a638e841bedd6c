package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gluk-w/online-ide/internal/config"
	"github.com/gluk-w/online-ide/internal/logutil"
	"github.com/gluk-w/online-ide/internal/sandbox"
)

type contextKey string

const clientKeyContextKey contextKey = "client-key"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireOrigin rejects requests whose Origin header is not in
// IDE_ALLOWED_ORIGINS. It is the only gate in front of session creation.
func RequireOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !config.Cfg.OriginAllowed(origin) {
			log.Printf("[origin] rejected %q from %s", logutil.SanitizeForLog(origin), logutil.SanitizeForLog(r.RemoteAddr))
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Origin not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey derives the sandbox key from the client address and stores it
// in the request context. Mount it after chi's RealIP so proxied clients
// are keyed by X-Real-IP.
func ClientKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := sandbox.SessionKey(r.RemoteAddr)
		ctx := context.WithValue(r.Context(), clientKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientKey returns the key set by ClientKey, deriving it from
// RemoteAddr when the middleware did not run.
func GetClientKey(r *http.Request) string {
	if key, ok := r.Context().Value(clientKeyContextKey).(string); ok {
		return key
	}
	return sandbox.SessionKey(r.RemoteAddr)
}
