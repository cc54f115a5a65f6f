package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/buildwatch/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// TokenAuth checks a shared ingestion token sent as a Bearer header or a
// "token" query parameter. A bcrypt hash takes precedence over a plain token.
// With neither configured, authentication is disabled.
type TokenAuth struct {
	token string
	hash  []byte
}

// NewTokenAuth creates a TokenAuth middleware.
func NewTokenAuth(token, bcryptHash string) *TokenAuth {
	a := &TokenAuth{token: token}
	if bcryptHash != "" {
		a.hash = []byte(bcryptHash)
	}
	return a
}

// Enabled reports whether requests are checked.
func (a *TokenAuth) Enabled() bool {
	return a != nil && (a.token != "" || len(a.hash) > 0)
}

// Authenticate rejects requests without a valid token.
func (a *TokenAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw := extractBearerToken(r)
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing bearer token or token query parameter", nil)
			return
		}
		if !a.valid(raw) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *TokenAuth) valid(raw string) bool {
	if len(a.hash) > 0 {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(raw)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.token), []byte(raw)) == 1
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
