package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the one configured storefront origin to call the public API
// and read uploaded files.
func CORS(origin string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	})
}
