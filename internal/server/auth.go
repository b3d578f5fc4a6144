package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/golang-jwt/jwt/v5"
)

// scopeCacheTTL is how long a verified JWT's scopes are kept before the
// signature is checked again.
const scopeCacheTTL = 5 * time.Minute

// Authenticator checks bearer credentials against a JWT signing secret, a
// static token file, or both, and resolves them to permission scopes.
type Authenticator struct {
	secret []byte
	tokens map[string][]string
	cache  util.Cache
}

// tokenFile is the TOML shape of the static token file:
//
//	[tokens]
//	"my-api-token" = "users:* orders:read"
type tokenFile struct {
	Tokens map[string]string `toml:"tokens"`
}

// NewAuthenticator builds the authenticator. Both arguments may be empty, in
// which case authentication is disabled and nil is returned.
func NewAuthenticator(ctx context.Context, secret string, tokenFilename string) (*Authenticator, error) {
	if secret == "" && tokenFilename == "" {
		return nil, nil
	}
	a := &Authenticator{
		cache: util.NewCache(ctx, time.Minute),
	}
	if secret != "" {
		a.secret = []byte(secret)
	}
	if tokenFilename != "" {
		var tf tokenFile
		if _, err := toml.DecodeFile(tokenFilename, &tf); err != nil {
			return nil, fmt.Errorf("error reading token file %s: %w", tokenFilename, err)
		}
		a.tokens = make(map[string][]string, len(tf.Tokens))
		for token, scopes := range tf.Tokens {
			a.tokens[token] = strings.Fields(scopes)
		}
	}
	return a, nil
}

// Close releases the scope cache.
func (a *Authenticator) Close() error {
	return a.cache.Close()
}

// Scopes resolves the request's bearer token to its permission scopes.
func (a *Authenticator) Scopes(r *http.Request) ([]string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, fmt.Errorf("authorization header is not a bearer token")
	}
	if scopes, ok := a.tokens[token]; ok {
		return scopes, nil
	}
	if a.secret == nil {
		return nil, fmt.Errorf("unknown token")
	}
	key := util.Hash(token)
	if found, val, _ := a.cache.Get(key); found {
		return val.([]string), nil
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	scope, _ := claims["scope"].(string)
	scopes := strings.Fields(scope)
	_ = a.cache.Set(key, scopes, scopeCacheTTL)
	return scopes, nil
}

// Allowed reports whether any of the scopes grants the permission slug. A
// scope of * grants everything and <model>:* every operation on the model.
func Allowed(scopes []string, slug string) bool {
	model, _, _ := strings.Cut(slug, ":")
	for _, scope := range scopes {
		switch scope {
		case "*", slug, model + ":*":
			return true
		}
	}
	return false
}

// authorize enforces the model's permission slug for the operation. It
// writes the error response and returns false when the request is denied.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, m *internal.Model, op string) bool {
	if s.auth == nil {
		return true
	}
	scopes, err := s.auth.Scopes(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	slug := m.PermissionFor(op)
	if !Allowed(scopes, slug) {
		respondError(w, http.StatusForbidden, fmt.Sprintf("missing permission %s", slug))
		return false
	}
	return true
}

// authenticate only checks that the request carries valid credentials,
// without requiring a model scope.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	if s.auth == nil {
		return true
	}
	if _, err := s.auth.Scopes(r); err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	return true
}
