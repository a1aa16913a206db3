package panel

import (
	"crypto/subtle"
	"net/http"

	"github.com/basket/clawdeck/internal/config"
)

// AuthMiddleware enforces HTTP basic auth on every route except the
// health check. An empty password disables auth entirely, which is the
// expected setup for a localhost-only panel.
type AuthMiddleware struct {
	username string
	password string
	enabled  bool
	rejected func()
}

// NewAuthMiddleware creates the middleware from config. onReject, if
// non-nil, is called once per rejected request (metrics hook).
func NewAuthMiddleware(cfg config.AuthConfig, onReject func()) *AuthMiddleware {
	return &AuthMiddleware{
		username: cfg.Username,
		password: cfg.Password,
		enabled:  cfg.Password != "",
		rejected: onReject,
	}
}

// Wrap wraps an http.Handler with basic auth checking.
func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if !am.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks must work for scripts and load balancers.
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !am.credentialsMatch(user, pass) {
			if am.rejected != nil {
				am.rejected()
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="clawdeck"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// credentialsMatch uses constant-time comparison to prevent timing attacks.
func (am *AuthMiddleware) credentialsMatch(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(am.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(am.password)) == 1
	return userOK && passOK
}
