// Package store is the single source of truth for every locker: the
// State Store described in spec §4.1, backed by the shared sqlite schema
// in internal/schema. All mutation goes through this package; nothing
// else writes the lockers or vip_contracts tables.
package store

import "time"

// Status is a locker's position in its state machine.
type Status string

const (
	StatusFree     Status = "free"
	StatusReserved Status = "reserved"
	StatusOwned    Status = "owned"
	StatusOpening  Status = "opening"
	StatusBlocked  Status = "blocked"
)

// OwnerType identifies the kind of holder of a locker.
type OwnerType string

const (
	OwnerNone   OwnerType = "none"
	OwnerRFID   OwnerType = "rfid"
	OwnerDevice OwnerType = "device"
	OwnerVIP    OwnerType = "vip"
)

// Locker is the row-level record identified by (KioskID, LockerID).
// Timestamps are stored as UTC millisecond epoch integers (spec §3,
// "Times are UTC millisecond-precision"), not time.Time, so they scan
// directly from sqlite INTEGER columns without a custom Scanner.
type Locker struct {
	KioskID          string    `db:"kiosk_id"`
	LockerID         int       `db:"locker_id"`
	Status           Status    `db:"status"`
	OwnerType        OwnerType `db:"owner_type"`
	OwnerKey         *string   `db:"owner_key"`
	ReservedAt       *int64    `db:"reserved_at"`
	OwnedAt          *int64    `db:"owned_at"`
	OpeningStartedAt *int64    `db:"opening_started_at"`
	Version          int64     `db:"version"`
	IsVIP            bool      `db:"is_vip"`
	DisplayName      *string   `db:"display_name"`
	Enabled          bool      `db:"enabled"`
}

// ReservedAtTime returns ReservedAt as a time.Time, or the zero value.
func (l Locker) ReservedAtTime() time.Time {
	if l.ReservedAt == nil {
		return time.Time{}
	}
	return fromMillis(*l.ReservedAt)
}

// OpeningStartedAtTime returns OpeningStartedAt as a time.Time, or zero.
func (l Locker) OpeningStartedAtTime() time.Time {
	if l.OpeningStartedAt == nil {
		return time.Time{}
	}
	return fromMillis(*l.OpeningStartedAt)
}

// Name returns the operator-facing label, falling back to "Dolap N".
func (l Locker) Name() string {
	if l.DisplayName != nil && *l.DisplayName != "" {
		return *l.DisplayName
	}
	return displayFallback(l.LockerID)
}

func displayFallback(id int) string {
	return "Dolap " + itoa(id)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// VipStatus is the lifecycle state of a VipContract.
type VipStatus string

const (
	VipActive    VipStatus = "active"
	VipExpired   VipStatus = "expired"
	VipCancelled VipStatus = "cancelled"
)

// VipContract binds an RFID card to one locker for a bounded time window.
// StartDate/EndDate/CreatedAt are UTC millisecond epoch integers.
type VipContract struct {
	ID        string    `db:"id"`
	KioskID   string    `db:"kiosk_id"`
	LockerID  int       `db:"locker_id"`
	RFIDCard  string    `db:"rfid_card"`
	StartDate int64     `db:"start_date"`
	EndDate   int64     `db:"end_date"`
	Status    VipStatus `db:"status"`
	CreatedBy string    `db:"created_by"`
	CreatedAt int64     `db:"created_at"`
}

// EndDateTime returns EndDate as a time.Time.
func (c VipContract) EndDateTime() time.Time { return fromMillis(c.EndDate) }

// StateChanged is published once per committed locker mutation, in commit
// order for that (kiosk, locker) per spec §5.
type StateChanged struct {
	KioskID  string
	LockerID int
	Old      Status
	New      Status
	Version  int64
}
