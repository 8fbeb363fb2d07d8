package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := t.TempDir() + "/lockergrid.db"
	db, err := schema.Open(dbPath, schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil, nil)
}

func TestReserveConfirmRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 1))

	l, err := s.Reserve(ctx, "kiosk-1", 1, OwnerRFID, "abc123")
	require.NoError(t, err)
	require.Equal(t, StatusReserved, l.Status)

	l, err = s.Confirm(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	require.Equal(t, StatusOwned, l.Status)

	l, err = s.Release(ctx, "kiosk-1", 1, "abc123")
	require.NoError(t, err)
	require.Equal(t, StatusFree, l.Status)
	require.Equal(t, OwnerNone, l.OwnerType)
}

func TestReserveRejectsAlreadyBusy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 1))

	_, err := s.Reserve(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "kiosk-1", 1, OwnerRFID, "card-b")
	require.ErrorIs(t, err, ErrBusy)
}

func TestReserveRejectsSecondLockerForSameOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 1))
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 2))

	_, err := s.Reserve(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "kiosk-1", 2, OwnerRFID, "card-a")
	require.ErrorIs(t, err, ErrOwnerAlreadyHasLocker)
}

func TestReleaseRejectsWrongOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 1))
	_, err := s.Reserve(ctx, "kiosk-1", 1, OwnerDevice, "device-1")
	require.NoError(t, err)

	_, err = s.Release(ctx, "kiosk-1", 1, "device-2")
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestVipContractBlocksReserveAndProtectsRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 5))

	_, err := s.CreateVipContract(ctx, "kiosk-1", 5, "vip-card", now(), now()+1000, "staff-1")
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "kiosk-1", 5, OwnerRFID, "other-card")
	require.ErrorIs(t, err, ErrBusy)

	l, err := s.ReleaseVipAccess(ctx, "kiosk-1", 5, "vip-card")
	require.NoError(t, err)
	require.True(t, l.IsVIP)
}

func TestBeginEndOpeningResolvesToOwned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 1))
	_, err := s.Reserve(ctx, "kiosk-1", 1, OwnerRFID, "card-a")
	require.NoError(t, err)
	_, err = s.Confirm(ctx, "kiosk-1", 1)
	require.NoError(t, err)

	l, err := s.BeginOpening(ctx, "kiosk-1", 1)
	require.NoError(t, err)
	require.Equal(t, StatusOpening, l.Status)

	l, err = s.EndOpening(ctx, "kiosk-1", 1, StatusOwned)
	require.NoError(t, err)
	require.Equal(t, StatusOwned, l.Status)
}

func TestSweepOpeningTimeoutResolvesOwnerlessToFree(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", 9))
	_, err := s.Reserve(ctx, "kiosk-1", 9, OwnerRFID, "card-z")
	require.NoError(t, err)
	_, err = s.Release(ctx, "kiosk-1", 9, "card-z")
	require.NoError(t, err)

	// Simulate a release-triggered pulse stuck in Opening with no owner.
	_, err = s.db.ExecContext(ctx,
		`UPDATE lockers SET status='opening', opening_started_at=0, version=version+1 WHERE kiosk_id=? AND locker_id=?`,
		"kiosk-1", 9)
	require.NoError(t, err)

	n, err := s.SweepOpeningTimeouts(ctx, now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	l, err := s.get(ctx, "kiosk-1", 9)
	require.NoError(t, err)
	require.Equal(t, StatusFree, l.Status)
}

// TestConcurrentReservesDistinctOwners exercises S5: 50 concurrent
// reserves against distinct lockers with distinct RFID keys must all
// succeed without lost updates or deadlock.
func TestConcurrentReservesDistinctOwners(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const n = 50
	for i := 1; i <= n; i++ {
		require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", i))
	}

	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(lockerID int) {
			defer wg.Done()
			_, err := s.Reserve(ctx, "kiosk-1", lockerID, OwnerRFID, fmt.Sprintf("card-%d", lockerID))
			if err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	lockers, err := s.All(ctx, "kiosk-1", nil)
	require.NoError(t, err)
	reserved := 0
	for _, l := range lockers {
		if l.Status == StatusReserved {
			reserved++
		}
	}
	require.Equal(t, n, reserved)
}

// TestConcurrentReservesSameOwnerOnlyOneWins exercises the cross-row
// owner-uniqueness lock: many goroutines racing to claim distinct
// lockers under the SAME RFID key must leave exactly one winner.
func TestConcurrentReservesSameOwnerOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const n = 20
	for i := 1; i <= n; i++ {
		require.NoError(t, s.EnsureLocker(ctx, "kiosk-1", i))
	}

	var wg sync.WaitGroup
	var wins atomic.Int64
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(lockerID int) {
			defer wg.Done()
			_, err := s.Reserve(ctx, "kiosk-1", lockerID, OwnerRFID, "shared-card")
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}
