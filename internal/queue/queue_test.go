package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/schema"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := schema.Open(t.TempDir()+"/lockergrid.db", schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := sqlx.NewDb(db, "sqlite")
	return NewManager(sdb, event.New(sdb, nil))
}

func TestEnqueuePollMarkComplete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Enqueue(ctx, "gym-main", TypeOpenLocker, map[string]any{"locker_id": 7}, 3)
	require.NoError(t, err)

	cmds, err := m.Poll(ctx, "gym-main", "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, StatusInProgress, cmds[0].Status)

	require.NoError(t, m.MarkComplete(ctx, id))

	cmds, err = m.Poll(ctx, "gym-main", "worker-1", 10)
	require.NoError(t, err)
	require.Empty(t, cmds)
}

func TestMarkFailedReschedulesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	id, err := m.Enqueue(ctx, "gym-main", TypeBuzzer, nil, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := m.Poll(ctx, "gym-main", "worker-1", 10)
		require.NoError(t, err)
		require.NoError(t, m.MarkFailed(ctx, id, "timeout"))
		// Force-reschedule forward so the next poll sees it immediately.
		_, err = m.db.ExecContext(ctx, `UPDATE commands SET scheduled_at=0 WHERE command_id=?`, id)
		require.NoError(t, err)
	}

	var status string
	require.NoError(t, m.db.GetContext(ctx, &status, `SELECT status FROM commands WHERE command_id=?`, id))
	require.Equal(t, string(StatusFailed), status)
}

func TestClearEmitsCommandsClearedEvent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Enqueue(ctx, "gym-main", TypeOpenLocker, map[string]any{"locker_id": 1}, 3)
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "gym-main", TypeOpenLocker, map[string]any{"locker_id": 2}, 3)
	require.NoError(t, err)

	n, err := m.Clear(ctx, "gym-main", "power_interruption")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rows, err := m.sink.Query(ctx, event.Filter{EventType: "commands_cleared"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestSweepExpiredLeasesReturnsToPending(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.leaseDuration = -1 * time.Second // leases expire immediately
	id, err := m.Enqueue(ctx, "gym-main", TypeOpenLocker, map[string]any{"locker_id": 1}, 3)
	require.NoError(t, err)
	_, err = m.Poll(ctx, "gym-main", "worker-1", 10)
	require.NoError(t, err)

	n, err := m.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var status string
	require.NoError(t, m.db.GetContext(ctx, &status, `SELECT status FROM commands WHERE command_id=?`, id))
	require.Equal(t, string(StatusPending), status)
}
