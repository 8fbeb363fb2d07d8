package provisioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/schema"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := schema.Open(t.TempDir()+"/lockergrid.db", schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(db, []byte("super-secret"))
}

func TestIssueRegisterAuthenticate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	token, _, err := m.IssueToken(ctx, "gym-main", "north")
	require.NoError(t, err)

	kioskID, secret, err := m.Register(ctx, token, "hw-123", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "gym-main", kioskID)
	require.NotEmpty(t, secret)

	require.NoError(t, m.Authenticate(ctx, kioskID, "hw-123", secret))
	require.ErrorIs(t, m.Authenticate(ctx, kioskID, "hw-123", "wrong-secret"), ErrSecretMismatch)
	require.ErrorIs(t, m.Authenticate(ctx, kioskID, "hw-999", secret), ErrHardwareMismatch)
}

func TestRegisterRejectsReuse(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	token, _, err := m.IssueToken(ctx, "gym-main", "north")
	require.NoError(t, err)
	_, _, err = m.Register(ctx, token, "hw-123", "1.0.0")
	require.NoError(t, err)

	_, _, err = m.Register(ctx, token, "hw-123", "1.0.0")
	require.ErrorIs(t, err, ErrTokenUsed)
}

func TestCompleteEnrollmentSetsOnline(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	token, _, err := m.IssueToken(ctx, "gym-main", "north")
	require.NoError(t, err)
	_, _, err = m.Register(ctx, token, "hw-123", "1.0.0")
	require.NoError(t, err)

	require.NoError(t, m.CompleteEnrollment(ctx, "gym-main"))

	var status string
	require.NoError(t, m.db.QueryRowContext(ctx, `SELECT status FROM kiosk_heartbeat WHERE kiosk_id=?`, "gym-main").Scan(&status))
	require.Equal(t, "online", status)
}
