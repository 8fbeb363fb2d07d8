package qrproto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrips(t *testing.T) {
	issuer := NewIssuer([]byte("secret"))
	tok, err := issuer.Issue(5, "device-1", ActionAssign)
	require.NoError(t, err)

	action, err := issuer.Validate(tok, 5, "device-1")
	require.NoError(t, err)
	require.Equal(t, ActionAssign, action)
}

func TestValidateRejectsFieldMismatch(t *testing.T) {
	issuer := NewIssuer([]byte("secret"))
	tok, err := issuer.Issue(5, "device-1", ActionAssign)
	require.NoError(t, err)

	_, err = issuer.Validate(tok, 6, "device-1")
	require.ErrorIs(t, err, ErrFieldMismatch)
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	issuer := NewIssuer([]byte("secret"))
	tok, err := issuer.Issue(5, "device-1", ActionAssign)
	require.NoError(t, err)

	other := NewIssuer([]byte("different-secret"))
	_, err = other.Validate(tok, 5, "device-1")
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuer := &Issuer{secret: []byte("secret"), ttl: -1 * time.Millisecond}
	tok, err := issuer.Issue(5, "device-1", ActionRelease)
	require.NoError(t, err)

	_, err = issuer.Validate(tok, 5, "device-1")
	require.ErrorIs(t, err, ErrTokenExpired)
}
