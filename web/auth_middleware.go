package web

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// tokenAuth checks a bearer token against a bcrypt hash. Tokens that matched once are
// remembered by digest so bcrypt runs once per token, not once per request.
type tokenAuth struct {
	hash     []byte
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]bool
}

func newTokenAuth(hash string) *tokenAuth {
	return &tokenAuth{hash: []byte(hash), verified: make(map[[sha256.Size]byte]bool)}
}

func (a *tokenAuth) valid(token string) bool {
	if token == "" || len(a.hash) == 0 {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.mu.Lock()
	a.verified[digest] = true
	a.mu.Unlock()
	return true
}

func (a *tokenAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || !a.valid(strings.TrimSpace(token)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
