package qrproto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSignatureMismatch = errors.New("qrproto: signature mismatch")
	ErrTokenExpired      = errors.New("qrproto: token expired")
	ErrFieldMismatch     = errors.New("qrproto: token does not match request context")
)

// Action is the verb an action token authorizes.
type Action string

const (
	ActionAssign  Action = "assign"
	ActionRelease Action = "release"
)

// tokenFields is marshaled without Signature to produce the canonical
// bytes the HMAC covers; Signature is appended only in the wire form.
type tokenFields struct {
	LockerID     int    `json:"locker_id"`
	DeviceID     string `json:"device_id"`
	Action       Action `json:"action"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
}

type wireToken struct {
	tokenFields
	Signature string `json:"signature"`
}

// Issuer mints and validates action tokens using a server-held secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an Issuer with spec §4.7's 5-second TTL.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, ttl: 5 * time.Second}
}

// Issue mints an opaque base64 token bound to lockerID, deviceID, action.
func (i *Issuer) Issue(lockerID int, deviceID string, action Action) (string, error) {
	fields := tokenFields{
		LockerID: lockerID, DeviceID: deviceID, Action: action,
		ExpiresAtMs: time.Now().Add(i.ttl).UTC().UnixMilli(),
	}
	sig, err := i.sign(fields)
	if err != nil {
		return "", err
	}
	wire := wireToken{tokenFields: fields, Signature: sig}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("qrproto: marshal token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Validate decodes tok and checks its signature, TTL, and binding to
// lockerID/deviceID. Returns the authorized Action on success.
func (i *Issuer) Validate(tok string, lockerID int, deviceID string) (Action, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return "", fmt.Errorf("qrproto: decode token: %w", err)
	}
	var wire wireToken
	if err := json.Unmarshal(raw, &wire); err != nil {
		return "", fmt.Errorf("qrproto: unmarshal token: %w", err)
	}

	expected, err := i.sign(wire.tokenFields)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(wire.Signature)) != 1 {
		return "", ErrSignatureMismatch
	}
	if time.Now().UTC().UnixMilli() > wire.ExpiresAtMs {
		return "", ErrTokenExpired
	}
	if wire.LockerID != lockerID || wire.DeviceID != deviceID {
		return "", ErrFieldMismatch
	}
	return wire.Action, nil
}

func (i *Issuer) sign(f tokenFields) (string, error) {
	canonical, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("qrproto: marshal canonical fields: %w", err)
	}
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(canonical)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
