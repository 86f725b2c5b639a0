package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey struct{}

// TenantClaim names the token claim that carries the tenant.
const TenantClaim = "tenant_id"

// ErrNoSigningKey is returned when a token is issued without a secret.
var ErrNoSigningKey = errors.New("jwt signing key not set")

// JWTMiddleware validates the HS256 bearer token and attaches its tenant to the
// request context. With an empty secret every request is rejected.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				http.Error(w, "authentication not configured", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			tenantID, ok := claims[TenantClaim].(string)
			if !ok || strings.TrimSpace(tenantID) == "" {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
		})
	}
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// TenantFromContext returns the tenant set by JWTMiddleware.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(ctxKey{}).(string)
	return tenantID, ok && tenantID != ""
}

// IssueToken signs a token naming tenantID. kbctl uses it to talk to a running server.
func IssueToken(secret, tenantID string, claims jwt.MapClaims) (string, error) {
	if secret == "" {
		return "", ErrNoSigningKey
	}
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims[TenantClaim] = tenantID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
