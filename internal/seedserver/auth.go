package seedserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens issues and validates the HS256 bearer tokens the server accepts
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

// NewTokens creates a token service for the shared secret
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for subject
func (t *Tokens) Issue(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate checks the signature and expiry of a token and returns its subject
func (t *Tokens) Validate(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

// requireToken rejects requests without a valid bearer token
func requireToken(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				renderError(w, http.StatusUnauthorized, fmt.Errorf("authorization required"))
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" || token == "" {
				renderError(w, http.StatusUnauthorized, fmt.Errorf("invalid authorization format"))
				return
			}

			if _, err := tokens.Validate(token); err != nil {
				renderError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
