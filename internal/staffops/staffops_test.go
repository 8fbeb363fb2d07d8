package staffops

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/heartbeat"
	"github.com/lockergrid/core/internal/queue"
	"github.com/lockergrid/core/internal/schema"
	"github.com/lockergrid/core/internal/store"
)

func newTestOps(t *testing.T) (*Ops, *store.Store) {
	t.Helper()
	db, err := schema.Open(t.TempDir()+"/lockergrid.db", schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := sqlx.NewDb(db, "sqlite")
	ev := event.New(sdb, nil)
	q := queue.NewManager(sdb, ev)
	st := store.New(db, ev, nil)
	hb := heartbeat.NewManager(db)
	return New(q, st, ev, hb), st
}

func TestStaffOpenEnqueuesWithoutMutatingOwnership(t *testing.T) {
	ctx := context.Background()
	ops, st := newTestOps(t)
	require.NoError(t, st.EnsureLocker(ctx, "kiosk-1", 1))

	_, err := ops.StaffOpen(ctx, Actor{User: "alice"}, "kiosk-1", 1, "jammed latch")
	require.NoError(t, err)

	l, err := st.LookupLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	require.Equal(t, store.StatusFree, l.Status)
}

func TestBulkOpenExcludesVip(t *testing.T) {
	ctx := context.Background()
	ops, st := newTestOps(t)
	require.NoError(t, st.EnsureLocker(ctx, "kiosk-1", 1))
	require.NoError(t, st.EnsureLocker(ctx, "kiosk-1", 2))
	_, err := st.CreateVipContract(ctx, "kiosk-1", 2, "vip-card", 0, 9_999_999_999_999, "staff-1")
	require.NoError(t, err)

	ids, err := ops.BulkOpen(ctx, Actor{User: "alice"}, "kiosk-1", []int{1, 2}, true, "maintenance")
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestBlockUnblock(t *testing.T) {
	ctx := context.Background()
	ops, st := newTestOps(t)
	require.NoError(t, st.EnsureLocker(ctx, "kiosk-1", 1))

	require.NoError(t, ops.Block(ctx, Actor{User: "alice"}, "kiosk-1", 1, "maintenance"))
	l, err := st.LookupLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	require.Equal(t, store.StatusBlocked, l.Status)

	require.NoError(t, ops.Unblock(ctx, Actor{User: "alice"}, "kiosk-1", 1))
	l, err = st.LookupLocker(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	require.Equal(t, store.StatusFree, l.Status)
}

func TestEmergencyOpenAllRequiresConfirmationWhenConfigured(t *testing.T) {
	ctx := context.Background()
	ops, _ := newTestOps(t)
	ops.EmergencyOpenRequiresConfirmation = true
	ops.ConfirmationPIN = "1234"

	_, err := ops.EmergencyOpenAll(ctx, Actor{User: "alice"}, "drill", "wrong")
	require.Error(t, err)

	n, err := ops.EmergencyOpenAll(ctx, Actor{User: "alice"}, "drill", "1234")
	require.NoError(t, err)
	require.Equal(t, 0, n) // no kiosks online in this fixture
}
