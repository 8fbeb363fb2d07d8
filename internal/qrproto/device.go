// Package qrproto implements the QR access protocol (spec §4.7): device
// identification, short-TTL HMAC action tokens, origin/LAN checks, and
// the VIP guard.
package qrproto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

const deviceCookieName = "device_id"

// EnsureDeviceID returns the device_id cookie value, setting a fresh
// 128-bit random hex cookie (HttpOnly, SameSite=Strict, 1 year) if one
// is not already present.
func EnsureDeviceID(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(deviceCookieName); err == nil && len(c.Value) == 32 {
		return c.Value, nil
	}
	id, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("qrproto: generate device id: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})
	return id, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
