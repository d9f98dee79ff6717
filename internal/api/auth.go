package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
	bearerPrefix        = "bearer "
)

// Authenticator checks the shared secret a caller presents, either as the
// X-API-Key header or as "Authorization: Bearer <key>". The header wins
// when both are present.
type Authenticator struct {
	key []byte
}

func NewAuthenticator(key string) *Authenticator {
	return &Authenticator{key: []byte(key)}
}

// PresentedKey extracts the key from the request, or "".
func PresentedKey(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	auth := r.Header.Get(HeaderAuthorization)
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}
	return ""
}

// Check reports whether the request carries the shared secret. An
// Authenticator without a key accepts nobody.
func (a *Authenticator) Check(r *http.Request) bool {
	presented := PresentedKey(r)
	if presented == "" || len(a.key) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.key) == 1
}

// Middleware rejects requests without the shared secret.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(r) {
			WriteError(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
