package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/schema"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := schema.Open(t.TempDir()+"/lockergrid.db", schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`INSERT INTO kiosk_heartbeat (kiosk_id, status, offline_threshold_seconds) VALUES (?,?,?)`,
		"gym-main", string(StatusProvisioning), 30)
	require.NoError(t, err)
	return NewManager(db)
}

func TestPingTransitionsToOnline(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	r, err := m.Ping(ctx, "gym-main", "1.2.3", "abc123")
	require.NoError(t, err)
	require.Equal(t, StatusOnline, r.Status)
	require.Equal(t, "abc123", *r.LastConfigHash)
}

func TestSweepOfflineMarksStaleKiosk(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Ping(ctx, "gym-main", "1.0", "hash")
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-1 * time.Hour).UnixMilli()
	_, err = m.db.ExecContext(ctx, `UPDATE kiosk_heartbeat SET last_seen=? WHERE kiosk_id=?`, stale, "gym-main")
	require.NoError(t, err)

	n, err := m.SweepOffline(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	r, err := m.Get(ctx, "gym-main")
	require.NoError(t, err)
	require.Equal(t, StatusOffline, r.Status)
}
