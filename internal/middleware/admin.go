package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gluk-w/online-ide/internal/config"
	"github.com/gluk-w/online-ide/internal/logutil"
)

// RequireAdmin guards operator routes with the IDE_ADMIN_TOKEN bearer
// token. Without a configured token the routes are closed to everyone.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := config.Cfg.AdminToken
		if want == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Admin access required"})
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			log.Printf("[admin] rejected %s %s from %s", r.Method, logutil.SanitizeForLog(r.URL.Path), logutil.SanitizeForLog(r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
