package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const HeaderAuthorization = "Authorization"

// Authenticator recognises trusted callers by the admin bearer token
type Authenticator struct {
	token []byte
}

// NewAuthenticator creates an authenticator. An empty token trusts nobody.
func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{token: []byte(strings.TrimSpace(token))}
}

// Enabled reports whether an admin token is configured
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.token) > 0
}

// Authenticated reports whether r carries the admin token
func (a *Authenticator) Authenticated(r *http.Request) bool {
	if !a.Enabled() {
		return false
	}
	presented, ok := strings.CutPrefix(r.Header.Get(HeaderAuthorization), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), a.token) == 1
}

// RequireToken guards administrative routes
func (a *Authenticator) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			writeError(w, http.StatusForbidden, "admin API disabled")
			return
		}
		if !a.Authenticated(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="faithtrack"`)
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
