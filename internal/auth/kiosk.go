// Package auth covers the two authentication paths spec §6/§4.11 require:
// kiosk-to-gateway HMAC secret auth, and staff panel bearer sessions.
package auth

import (
	"context"
	"net/http"

	"github.com/lockergrid/core/internal/provisioning"
)

type contextKey string

const kioskIDKey contextKey = "kiosk_id"

// KioskAuth validates the X-Kiosk-Id / X-Hardware-Id / X-Kiosk-Secret
// headers against the provisioning manager's stored registration secret,
// and stores the authenticated kiosk id in the request context.
func KioskAuth(mgr *provisioning.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kioskID := r.Header.Get("X-Kiosk-Id")
			hardwareID := r.Header.Get("X-Hardware-Id")
			secret := r.Header.Get("X-Kiosk-Secret")
			if kioskID == "" || hardwareID == "" || secret == "" {
				http.Error(w, "missing kiosk credentials", http.StatusUnauthorized)
				return
			}
			if err := mgr.Authenticate(r.Context(), kioskID, hardwareID, secret); err != nil {
				http.Error(w, "invalid kiosk credentials", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), kioskIDKey, kioskID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KioskIDFromContext returns the kiosk id authenticated by KioskAuth.
func KioskIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(kioskIDKey).(string)
	return v, ok
}
