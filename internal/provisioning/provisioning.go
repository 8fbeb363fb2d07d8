// Package provisioning implements kiosk enrollment (spec §4.11):
// one-shot tokens, registration-secret derivation, and constant-time
// per-request kiosk authentication.
package provisioning

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTokenNotFound = errors.New("provisioning: token not found")
	ErrTokenUsed     = errors.New("provisioning: token already used")
	ErrTokenExpired  = errors.New("provisioning: token expired")
	ErrSecretMismatch = errors.New("provisioning: registration secret mismatch")
	ErrHardwareMismatch = errors.New("provisioning: hardware id mismatch")
)

const tokenTTL = 30 * time.Minute

// Manager handles the one-shot-token + secret-derivation enrollment flow.
type Manager struct {
	db        *sql.DB
	secretKey []byte
}

func NewManager(db *sql.DB, secretKey []byte) *Manager {
	return &Manager{db: db, secretKey: secretKey}
}

func now() int64 { return time.Now().UTC().UnixMilli() }

// IssueToken creates a one-shot 30-minute token bound to zone, for the
// panel to hand to whoever is physically enrolling a kiosk.
func (m *Manager) IssueToken(ctx context.Context, kioskID, zone string) (token string, expiresAt int64, err error) {
	token = uuid.NewString()
	expiresAt = now() + tokenTTL.Milliseconds()
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO provisioning_tokens (token, kiosk_id, zone, expires_at, used) VALUES (?,?,?,?,0)`,
		token, kioskID, zone, expiresAt)
	if err != nil {
		return "", 0, fmt.Errorf("provisioning: issue token: %w", err)
	}
	return token, expiresAt, nil
}

// Register consumes token and derives a registration secret bound to
// (kioskID, hardwareID). The heartbeat row transitions to provisioning.
func (m *Manager) Register(ctx context.Context, token, hardwareID, version string) (kioskID, secret string, err error) {
	var zone string
	var expiresAt int64
	var used bool
	err = m.db.QueryRowContext(ctx,
		`SELECT kiosk_id, zone, expires_at, used FROM provisioning_tokens WHERE token=?`, token).
		Scan(&kioskID, &zone, &expiresAt, &used)
	if err == sql.ErrNoRows {
		return "", "", ErrTokenNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("provisioning: lookup token: %w", err)
	}
	if used {
		return "", "", ErrTokenUsed
	}
	if now() > expiresAt {
		return "", "", ErrTokenExpired
	}

	secret = m.deriveSecret(kioskID, hardwareID)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("provisioning: begin register: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE provisioning_tokens SET used=1, used_at=? WHERE token=?`, now(), token); err != nil {
		return "", "", fmt.Errorf("provisioning: mark token used: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kiosk_heartbeat (kiosk_id, zone, version, status, hardware_id, registration_secret, offline_threshold_seconds)
		 VALUES (?,?,?,'provisioning',?,?,30)
		 ON CONFLICT(kiosk_id) DO UPDATE SET zone=excluded.zone, version=excluded.version,
		     status='provisioning', hardware_id=excluded.hardware_id, registration_secret=excluded.registration_secret`,
		kioskID, zone, version, hardwareID, secret); err != nil {
		return "", "", fmt.Errorf("provisioning: upsert heartbeat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("provisioning: commit register: %w", err)
	}
	return kioskID, secret, nil
}

// deriveSecret computes HMAC_SHA256(secretKey, "kiosk_id:hardware_id:secret_key")
// exactly as spec §4.11 specifies.
func (m *Manager) deriveSecret(kioskID, hardwareID string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(kioskID + ":" + hardwareID + ":" + string(m.secretKey)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate re-derives the expected secret for kioskID+hardwareID and
// compares constant-time against the secret the kiosk presented.
func (m *Manager) Authenticate(ctx context.Context, kioskID, hardwareID, presentedSecret string) error {
	var storedHardwareID, storedSecret string
	err := m.db.QueryRowContext(ctx,
		`SELECT hardware_id, registration_secret FROM kiosk_heartbeat WHERE kiosk_id=?`, kioskID).
		Scan(&storedHardwareID, &storedSecret)
	if err == sql.ErrNoRows {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("provisioning: authenticate lookup: %w", err)
	}
	if storedHardwareID != hardwareID {
		return ErrHardwareMismatch
	}
	if subtle.ConstantTimeCompare([]byte(m.deriveSecret(kioskID, hardwareID)), []byte(presentedSecret)) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

// CompleteEnrollment transitions the kiosk's heartbeat row to online.
func (m *Manager) CompleteEnrollment(ctx context.Context, kioskID string) error {
	_, err := m.db.ExecContext(ctx, `UPDATE kiosk_heartbeat SET status='online', last_seen=? WHERE kiosk_id=?`, now(), kioskID)
	if err != nil {
		return fmt.Errorf("provisioning: complete enrollment: %w", err)
	}
	return nil
}
