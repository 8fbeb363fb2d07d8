// Package rfidsession is the kiosk-local RFID user flow state (spec
// §4.8): UID normalization, one-session-per-kiosk bookkeeping, and a
// 20-second deadline sweeper in place of per-session timers (spec §9).
package rfidsession

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
)

var ErrShortUID = errors.New("rfidsession: SHORT_UID")

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// NormalizeUID validates a scanned card UID is digits-only, preserves
// leading zeros, and rejects an all-zero UID as SHORT_UID. OwnerKey
// derives from the first 16 hex characters of the UID's SHA-256 digest.
func NormalizeUID(raw string) (uid, ownerKey string, err error) {
	if !digitsOnly.MatchString(raw) {
		return "", "", errors.New("rfidsession: UID must be digits only")
	}
	if isAllZero(raw) {
		return "", "", ErrShortUID
	}
	sum := sha256.Sum256([]byte(raw))
	return raw, hex.EncodeToString(sum[:])[:16], nil
}

func isAllZero(s string) bool {
	for _, c := range s {
		if c != '0' {
			return false
		}
	}
	return true
}
