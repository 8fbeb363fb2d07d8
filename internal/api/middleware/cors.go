package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS restricts cross-origin access to the configured origin list.
// ApplyStack installs it only when StackConfig.EnableCORS is set.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID", "Authorization", "X-Kiosk-Id", "X-Hardware-Id", "X-Kiosk-Secret"},
		AllowCredentials: true,
		MaxAge:           600,
	})
}
