package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreateVipContract provisions a VIP contract and marks the target locker
// VIP, clearing any existing non-VIP occupant in the process. The locker
// stays Free/VIP with no owner; cardholder taps are access-only and do not
// assign ownership.
func (s *Store) CreateVipContract(ctx context.Context, kioskID string, lockerID int, rfidCard string, startDate, endDate int64, createdBy string) (VipContract, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return VipContract{}, err
	}

	c := VipContract{
		ID: uuid.NewString(), KioskID: kioskID, LockerID: lockerID,
		RFIDCard: rfidCard, StartDate: startDate, EndDate: endDate,
		Status: VipActive, CreatedBy: createdBy, CreatedAt: now(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return VipContract{}, fmt.Errorf("store: begin vip create: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vip_contracts (id, kiosk_id, locker_id, rfid_card, start_date, end_date, status, created_by, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.KioskID, c.LockerID, c.RFIDCard, c.StartDate, c.EndDate, string(c.Status), c.CreatedBy, c.CreatedAt,
	); err != nil {
		return VipContract{}, fmt.Errorf("store: insert vip contract: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE lockers SET is_vip=1, status='free', owner_type='none', owner_key=NULL,
		        reserved_at=NULL, owned_at=NULL, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		kioskID, lockerID, cur.Version)
	if err != nil {
		return VipContract{}, fmt.Errorf("store: mark locker vip: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return VipContract{}, ErrBusy
	}
	if err := tx.Commit(); err != nil {
		return VipContract{}, fmt.Errorf("store: commit vip create: %w", err)
	}

	updated, err := s.get(ctx, kioskID, lockerID)
	if err == nil {
		s.publish(ctx, cur, updated, "vip_contract_created", map[string]any{
			"contract_id": c.ID, "rfid_card": rfidCard, "owner_unchanged": false,
		})
	}
	return c, nil
}

// ReleaseVipAccess records a VIP cardholder's access without ever clearing
// locker ownership (SPEC_FULL.md Open Question #1 resolution): the locker
// stays VIP-owned for the lifetime of the contract, and every tap emits a
// vip_access event with details.owner_unchanged=true.
func (s *Store) ReleaseVipAccess(ctx context.Context, kioskID string, lockerID int, rfidCard string) (Locker, error) {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	cur, err := s.get(ctx, kioskID, lockerID)
	if err != nil {
		return Locker{}, err
	}
	if !cur.IsVIP {
		return Locker{}, fmt.Errorf("%w: locker is not VIP", ErrInvalidTransition)
	}
	s.publish(ctx, cur, cur, "vip_access", map[string]any{
		"rfid_card": rfidCard, "owner_unchanged": true,
	})
	return cur, nil
}

// ExpireVipContract transitions a contract to Expired and clears the
// VIP flag from its locker, returning it to ordinary Free circulation.
func (s *Store) ExpireVipContract(ctx context.Context, contractID string) error {
	return s.endVipContract(ctx, contractID, VipExpired)
}

// CancelVipContract transitions a contract to Cancelled and clears the
// VIP flag from its locker.
func (s *Store) CancelVipContract(ctx context.Context, contractID string) error {
	return s.endVipContract(ctx, contractID, VipCancelled)
}

func (s *Store) endVipContract(ctx context.Context, contractID string, toStatus VipStatus) error {
	var c VipContract
	err := s.db.GetContext(ctx, &c,
		`SELECT id, kiosk_id, locker_id, rfid_card, start_date, end_date, status, created_by, created_at
		 FROM vip_contracts WHERE id = ?`, contractID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get vip contract: %w", err)
	}
	if c.Status != VipActive {
		return nil
	}

	unlock := s.locks.lock(c.KioskID, c.LockerID)
	defer unlock()

	cur, err := s.get(ctx, c.KioskID, c.LockerID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin vip end: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE vip_contracts SET status=? WHERE id=?`, string(toStatus), contractID); err != nil {
		return fmt.Errorf("store: update vip contract status: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE lockers SET is_vip=0, status='free', owner_type='none', owner_key=NULL,
		        reserved_at=NULL, owned_at=NULL, version=version+1
		 WHERE kiosk_id=? AND locker_id=? AND version=?`,
		c.KioskID, c.LockerID, cur.Version); err != nil {
		return fmt.Errorf("store: clear locker vip: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit vip end: %w", err)
	}

	updated, err := s.get(ctx, c.KioskID, c.LockerID)
	if err == nil {
		s.publish(ctx, cur, updated, "vip_contract_"+string(toStatus), map[string]any{"contract_id": contractID})
	}
	return nil
}

// ActiveVipContractFor returns the active contract bound to rfidCard, if any.
func (s *Store) ActiveVipContractFor(ctx context.Context, rfidCard string) (*VipContract, error) {
	var c VipContract
	err := s.db.GetContext(ctx, &c,
		`SELECT id, kiosk_id, locker_id, rfid_card, start_date, end_date, status, created_by, created_at
		 FROM vip_contracts WHERE rfid_card = ? AND status = 'active' LIMIT 1`, rfidCard)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup vip contract: %w", err)
	}
	return &c, nil
}

// ExpireDueVipContracts is the sweep counterpart of ExpireVipContract: it
// finds every still-active contract whose EndDate has passed and expires
// each in turn. Intended to share the ticker with ExpireReservations.
func (s *Store) ExpireDueVipContracts(ctx context.Context, cutoff int64) (int, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM vip_contracts WHERE status = 'active' AND end_date <= ?`, cutoff); err != nil {
		return 0, fmt.Errorf("store: select due vip contracts: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := s.ExpireVipContract(ctx, id); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
