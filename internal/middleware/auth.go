// Package middleware provides the HTTP middleware shared by every route:
// request IDs, access logging, rate limiting and bearer-token authentication.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"changeguard/internal/domain"
)

// Claims holds the identity extracted from a validated token.
type Claims struct {
	Subject string
	Type    string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (*Claims, error)
}

// HS256Validator validates JWTs signed with a shared HS256 secret.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator creates a validator for HS256 tokens.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies the signature and expiry and requires a sub claim.
// An optional principal_type claim ("user" or "service") is carried along.
func (v *HS256Validator) Validate(_ context.Context, tokenString string) (*Claims, error) {
	tok, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	sub, err := raw.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	claims := &Claims{Subject: sub, Type: "user"}
	if t, ok := raw["principal_type"].(string); ok && t != "" {
		claims.Type = t
	}
	return claims, nil
}

// Authenticate requires a valid Bearer token on every request and stores
// the caller in the request context as a domain.ContextPrincipal.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || tokenStr == "" {
				writeUnauthorized(w, "unauthorized: provide a valid Bearer token")
				return
			}

			claims, err := validator.Validate(r.Context(), tokenStr)
			if err != nil {
				writeUnauthorized(w, "unauthorized: invalid token")
				return
			}

			ctx := domain.WithPrincipal(r.Context(), domain.ContextPrincipal{
				Name: claims.Subject,
				Type: claims.Type,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": message,
	})
}
