package store

import (
	"context"
	"fmt"

	"github.com/lockergrid/core/internal/log"
)

// ExpireReservations releases every Reserved locker whose reserved_at is
// older than cutoff, returning Free lockers to circulation when the
// cardholder never completed the confirm step.
func (s *Store) ExpireReservations(ctx context.Context, cutoff int64) (int, error) {
	return s.sweepStatus(ctx, StatusReserved, "reserved_at", cutoff, "reservation_expired")
}

// SweepOpeningTimeouts resolves every locker stuck in Opening past
// opening_timeout_ms. Per SPEC_FULL.md's resolution of Open Question #4,
// the sweep checks whether an owner is still present rather than tracking
// the status the locker held before Opening: an owner-less Opening locker
// (a release-triggered pulse) resolves to Free, while an owned Opening
// locker resolves back to Owned.
func (s *Store) SweepOpeningTimeouts(ctx context.Context, timeoutCutoff int64) (int, error) {
	var stuck []Locker
	if err := s.db.SelectContext(ctx,
		&stuck,
		`SELECT kiosk_id, locker_id, status, owner_type, owner_key, reserved_at, owned_at,
		        opening_started_at, version, is_vip, display_name, enabled
		 FROM lockers WHERE status = 'opening' AND opening_started_at <= ?`, timeoutCutoff); err != nil {
		return 0, fmt.Errorf("store: select stuck openings: %w", err)
	}

	n := 0
	for _, l := range stuck {
		dest := StatusFree
		if l.OwnerType != OwnerNone {
			dest = StatusOwned
		}
		if _, err := s.EndOpening(ctx, l.KioskID, l.LockerID, dest); err != nil {
			log.L().Warn().Err(err).Str("kiosk_id", l.KioskID).Int("locker_id", l.LockerID).
				Msg("sweep: failed to resolve stuck opening")
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) sweepStatus(ctx context.Context, status Status, tsColumn string, cutoff int64, eventType string) (int, error) {
	var rows []Locker
	query := fmt.Sprintf(
		`SELECT kiosk_id, locker_id, status, owner_type, owner_key, reserved_at, owned_at,
		        opening_started_at, version, is_vip, display_name, enabled
		 FROM lockers WHERE status = ? AND %s <= ?`, tsColumn)
	if err := s.db.SelectContext(ctx, &rows, query, string(status), cutoff); err != nil {
		return 0, fmt.Errorf("store: select sweep candidates: %w", err)
	}

	n := 0
	for _, l := range rows {
		if err := s.releaseForSweep(ctx, l.KioskID, l.LockerID, eventType); err != nil {
			log.L().Warn().Err(err).Str("kiosk_id", l.KioskID).Int("locker_id", l.LockerID).
				Msg("sweep: failed to release expired locker")
			continue
		}
		n++
	}
	return n, nil
}

// releaseForSweep mirrors Release's Reserved/Owned->Free transition but
// tags the audit event with a sweep-specific type instead of the
// owner-initiated release event.
func (s *Store) releaseForSweep(ctx context.Context, kioskID string, lockerID int, eventType string) error {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return err
	}
	if cur.Status != StatusReserved && cur.Status != StatusOwned {
		return nil
	}
	if cur.OwnerType == OwnerVIP {
		return nil
	}

	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='free', owner_type='none', owner_key=NULL, reserved_at=NULL, owned_at=NULL, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		kioskID, lockerID, cur.Version)
	if err != nil {
		return err
	}
	s.publish(ctx, cur, updated, eventType, nil)
	return nil
}
