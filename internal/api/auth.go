package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for a wrong password or unknown token.
var ErrBadCredentials = errors.New("bad credentials")

const tokenTTL = 24 * time.Hour

// Auth issues and validates bearer tokens against the configured bcrypt
// password verifier. Tokens live in process memory; a restart logs every
// session out.
type Auth struct {
	passwordHash string
	now          func() time.Time

	mu     sync.RWMutex
	tokens map[string]time.Time // token → expiry
}

// NewAuth creates the authenticator from a bcrypt hash.
func NewAuth(passwordHash string) *Auth {
	return &Auth{
		passwordHash: passwordHash,
		now:          time.Now,
		tokens:       make(map[string]time.Time),
	}
}

// Login verifies the password and issues a fresh bearer token.
func (a *Auth) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	token := uuid.NewString()
	a.mu.Lock()
	a.tokens[token] = a.now().Add(tokenTTL)
	a.mu.Unlock()
	return token, nil
}

// Validate checks a bearer token, pruning it when expired.
func (a *Auth) Validate(token string) bool {
	a.mu.RLock()
	expiry, ok := a.tokens[token]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	if a.now().After(expiry) {
		a.mu.Lock()
		delete(a.tokens, token)
		a.mu.Unlock()
		return false
	}
	return true
}

// Middleware rejects requests without a valid bearer token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || !a.Validate(strings.TrimPrefix(header, "Bearer ")) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
