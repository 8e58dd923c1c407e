package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/models"
)

// Claims are the bearer token claims identifying a caller.
type Claims struct {
	Role models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for caller, valid for ttl.
func IssueToken(cfg *config.AuthConfig, caller models.Caller, ttl time.Duration) (string, error) {
	if caller.UID == "" {
		return "", errors.New("caller uid is required")
	}
	now := time.Now()
	claims := Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parseToken validates a bearer token and returns the caller it names.
func parseToken(cfg *config.AuthConfig, raw string) (models.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return models.Caller{}, err
	}
	if claims.Subject == "" {
		return models.Caller{}, errors.New("token has no subject")
	}

	role := claims.Role
	switch role {
	case models.RoleAdmin, models.RoleModerator:
	default:
		role = models.RoleUser
	}
	return models.Caller{UID: claims.Subject, Role: role}, nil
}

// AuthMiddleware requires a valid bearer token and stores the caller in the
// request context.
func AuthMiddleware(cfg *config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			caller, err := parseToken(cfg, strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
