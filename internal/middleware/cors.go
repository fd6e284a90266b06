package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// corsPreflightMaxAge is in seconds.
const corsPreflightMaxAge = 600

// CORSHandler allows the configured web origins to call the API with a
// bearer token. Credentials are not allowed since auth never uses cookies.
// The request id is exposed so the UI can quote it in support requests.
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         corsPreflightMaxAge,
	})
}
