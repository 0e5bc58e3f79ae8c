package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/forgecommerce/storefront/internal/auth"
)

// TokenValidator validates admin bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.AdminClaims, error)
}

// RequireAdmin returns middleware that validates a JWT Bearer token and
// injects the admin subject into the request context. Unauthenticated
// requests receive a 401 JSON response.
func RequireAdmin(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(parts[1]))
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AdminSubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
