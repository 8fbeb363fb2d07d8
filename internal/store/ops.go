package store

import (
	"context"
	"fmt"
)

// Reserve moves a Free, non-VIP locker to Reserved for (ownerType,
// ownerKey), enforcing the "one owner, one locker" invariant. RFID
// uniqueness is global across kiosks; device (QR) uniqueness is scoped to
// the kiosk (spec §9 Open Question resolution in SPEC_FULL.md).
func (s *Store) Reserve(ctx context.Context, kioskID string, lockerID int, ownerType OwnerType, ownerKey string) (Locker, error) {
	unlockOwner := s.ownerLock(ownerType, ownerKey)
	defer unlockOwner()
	unlockRow := s.locks.lock(kioskID, lockerID)
	defer unlockRow()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if cur.Status != StatusFree || cur.IsVIP {
		return Locker{}, fmt.Errorf("%w: locker not free", ErrBusy)
	}
	if ownerType != OwnerVIP {
		scope := kioskID
		if ownerType == OwnerRFID {
			scope = ""
		}
		existing, err := s.lookupByOwnerScoped(ctx, ownerType, ownerKey, scope)
		if err != nil {
			return Locker{}, err
		}
		if existing != nil {
			return Locker{}, ErrOwnerAlreadyHasLocker
		}
	}

	ts := now()
	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='reserved', owner_type=?, owner_key=?, reserved_at=?, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		string(ownerType), ownerKey, ts, kioskID, lockerID, cur.Version)
	if err != nil {
		return Locker{}, err
	}
	s.publishChange(ctx, cur, updated)
	return updated, nil
}

// Confirm moves a Reserved locker to Owned.
func (s *Store) Confirm(ctx context.Context, kioskID string, lockerID int) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if cur.Status != StatusReserved {
		return Locker{}, fmt.Errorf("%w: locker is %s, want reserved", ErrInvalidTransition, cur.Status)
	}
	ts := now()
	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='owned', owned_at=?, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		ts, kioskID, lockerID, cur.Version)
	if err != nil {
		return Locker{}, err
	}
	s.publishChange(ctx, cur, updated)
	return updated, nil
}

// Release clears ownership and returns the locker to Free. VIP-owned
// lockers reject release; only the VIP contract lifecycle can dissolve
// VIP ownership. If expectedOwnerKey is non-empty, it must match the
// current owner key or ErrNotOwner is returned.
func (s *Store) Release(ctx context.Context, kioskID string, lockerID int, expectedOwnerKey string) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if cur.Status != StatusReserved && cur.Status != StatusOwned {
		return Locker{}, fmt.Errorf("%w: locker is %s", ErrInvalidTransition, cur.Status)
	}
	if cur.OwnerType == OwnerVIP {
		return Locker{}, ErrVipProtected
	}
	if expectedOwnerKey != "" && (cur.OwnerKey == nil || *cur.OwnerKey != expectedOwnerKey) {
		return Locker{}, ErrNotOwner
	}

	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='free', owner_type='none', owner_key=NULL, reserved_at=NULL, owned_at=NULL, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		kioskID, lockerID, cur.Version)
	if err != nil {
		return Locker{}, err
	}
	s.publishChange(ctx, cur, updated)
	return updated, nil
}

// Block marks a locker out-of-service. Any current owner is cleared;
// staff is expected to have already resolved the occupant separately.
func (s *Store) Block(ctx context.Context, kioskID string, lockerID int, reason string) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='blocked', owner_type='none', owner_key=NULL, reserved_at=NULL, owned_at=NULL, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		kioskID, lockerID, cur.Version)
	if err != nil {
		return Locker{}, err
	}
	s.publish(ctx, cur, updated, "blocked", map[string]any{"reason": reason})
	return updated, nil
}

// Unblock returns a Blocked locker to Free.
func (s *Store) Unblock(ctx context.Context, kioskID string, lockerID int) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if cur.Status != StatusBlocked {
		return Locker{}, fmt.Errorf("%w: locker is %s, want blocked", ErrInvalidTransition, cur.Status)
	}
	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='free', version=version+1 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		kioskID, lockerID, cur.Version)
	if err != nil {
		return Locker{}, err
	}
	s.publish(ctx, cur, updated, "unblocked", nil)
	return updated, nil
}

// AssignDirect is the staff-override path: it skips the "already has a
// locker" uniqueness check but still enforces the VIP exclusion.
func (s *Store) AssignDirect(ctx context.Context, kioskID string, lockerID int, ownerType OwnerType, ownerKey string) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if cur.IsVIP {
		return Locker{}, ErrVipBlocked
	}
	if cur.Status != StatusFree {
		return Locker{}, fmt.Errorf("%w: locker not free", ErrBusy)
	}
	ts := now()
	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='owned', owner_type=?, owner_key=?, reserved_at=?, owned_at=?, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		string(ownerType), ownerKey, ts, ts, kioskID, lockerID, cur.Version)
	if err != nil {
		return Locker{}, err
	}
	s.publish(ctx, cur, updated, "staff_assign_direct", map[string]any{"owner_type": ownerType, "owner_key": ownerKey})
	return updated, nil
}

// BeginOpening moves a Reserved or Owned locker to Opening, preparing for
// a hardware pulse. Owner fields are left untouched.
func (s *Store) BeginOpening(ctx context.Context, kioskID string, lockerID int) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if cur.Status != StatusReserved && cur.Status != StatusOwned {
		return Locker{}, fmt.Errorf("%w: locker is %s", ErrInvalidTransition, cur.Status)
	}
	ts := now()
	updated, err := s.casUpdate(ctx, kioskID, lockerID,
		`UPDATE lockers SET status='opening', opening_started_at=?, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		ts, kioskID, lockerID, cur.Version)
	if err != nil {
		return Locker{}, err
	}
	s.publish(ctx, cur, updated, "opening_started", nil)
	return updated, nil
}

// EndOpening resolves an Opening locker to toStatus (StatusOwned if the
// flow keeps ownership, StatusFree if the pulse was the final step of a
// release). Callers decide the destination; the store only enforces that
// the transition starts from Opening.
func (s *Store) EndOpening(ctx context.Context, kioskID string, lockerID int, toStatus Status) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if cur.Status != StatusOpening {
		return Locker{}, fmt.Errorf("%w: locker is %s, want opening", ErrInvalidTransition, cur.Status)
	}

	var updated Locker
	switch toStatus {
	case StatusOwned:
		updated, err = s.casUpdate(ctx, kioskID, lockerID,
			`UPDATE lockers SET status='owned', opening_started_at=NULL, version=version+1
			 WHERE kiosk_id=? AND locker_id=? AND version=?`,
			kioskID, lockerID, cur.Version)
	case StatusFree:
		updated, err = s.casUpdate(ctx, kioskID, lockerID,
			`UPDATE lockers SET status='free', owner_type='none', owner_key=NULL, reserved_at=NULL, owned_at=NULL, opening_started_at=NULL, version=version+1
			 WHERE kiosk_id=? AND locker_id=? AND version=?`,
			kioskID, lockerID, cur.Version)
	default:
		return Locker{}, fmt.Errorf("%w: cannot end opening into %s", ErrInvalidTransition, toStatus)
	}
	if err != nil {
		return Locker{}, err
	}
	s.publish(ctx, cur, updated, "opening_resolved", map[string]any{"to_status": toStatus})
	return updated, nil
}

// LookupByOwner returns the (at most one) locker owned by (ownerType,
// ownerKey), or nil if none.
func (s *Store) LookupByOwner(ctx context.Context, ownerType OwnerType, ownerKey string) (*Locker, error) {
	return s.lookupByOwnerScoped(ctx, ownerType, ownerKey, "")
}

// lookupByOwnerScoped restricts the search to kioskID when scopeKiosk is
// non-empty (used for per-kiosk device uniqueness); empty scopeKiosk
// searches globally (used for global RFID uniqueness).
func (s *Store) lookupByOwnerScoped(ctx context.Context, ownerType OwnerType, ownerKey, scopeKiosk string) (*Locker, error) {
	var l Locker
	query := `SELECT kiosk_id, locker_id, status, owner_type, owner_key, reserved_at, owned_at,
	                 opening_started_at, version, is_vip, display_name, enabled
	          FROM lockers
	          WHERE owner_type = ? AND owner_key = ? AND status IN ('reserved','owned','opening')`
	args := []any{string(ownerType), ownerKey}
	if scopeKiosk != "" {
		query += " AND kiosk_id = ?"
		args = append(args, scopeKiosk)
	}
	query += " LIMIT 1"

	err := s.db.GetContext(ctx, &l, query, args...)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("store: lookup by owner: %w", err)
	}
	return &l, nil
}

// Available returns Free, non-VIP, enabled lockers for kioskID, optionally
// restricted to the locker ids in zoneLockerIDs (nil means unfiltered).
func (s *Store) Available(ctx context.Context, kioskID string, zoneLockerIDs []int) ([]Locker, error) {
	return s.listByStatus(ctx, kioskID, StatusFree, zoneLockerIDs, false)
}

// All returns every locker for kioskID, optionally restricted to
// zoneLockerIDs.
func (s *Store) All(ctx context.Context, kioskID string, zoneLockerIDs []int) ([]Locker, error) {
	return s.listByStatus(ctx, kioskID, "", zoneLockerIDs, true)
}

func (s *Store) listByStatus(ctx context.Context, kioskID string, status Status, zoneLockerIDs []int, includeAll bool) ([]Locker, error) {
	query := `SELECT kiosk_id, locker_id, status, owner_type, owner_key, reserved_at, owned_at,
	                 opening_started_at, version, is_vip, display_name, enabled
	          FROM lockers WHERE kiosk_id = ?`
	args := []any{kioskID}
	if !includeAll {
		query += " AND status = ? AND is_vip = 0 AND enabled = 1"
		args = append(args, string(status))
	}
	if zoneLockerIDs != nil {
		if len(zoneLockerIDs) == 0 {
			return []Locker{}, nil
		}
		placeholders := ""
		for i, id := range zoneLockerIDs {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, id)
		}
		query += " AND locker_id IN (" + placeholders + ")"
	}
	query += " ORDER BY locker_id"

	var out []Locker
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// LookupLocker returns the current row for (kioskID, lockerID).
func (s *Store) LookupLocker(ctx context.Context, kioskID string, lockerID int) (Locker, error) {
	return s.get(ctx, kioskID, lockerID)
}

// OwnedLockerIDs returns the locker ids currently Owned on kioskID, for
// the emergency-open-all path.
func (s *Store) OwnedLockerIDs(ctx context.Context, kioskID string) ([]int, error) {
	var ids []int
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT locker_id FROM lockers WHERE kiosk_id = ? AND status = ? ORDER BY locker_id`,
		kioskID, string(StatusOwned)); err != nil {
		return nil, fmt.Errorf("store: owned locker ids: %w", err)
	}
	return ids, nil
}

