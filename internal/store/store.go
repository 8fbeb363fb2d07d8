package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lockergrid/core/internal/metrics"
)

// EventSink is the minimal audit-log dependency the Store needs: every
// committed mutation emits exactly one event (spec invariant 4). Defined
// here with plain types so this package never imports internal/event.
type EventSink interface {
	Append(ctx context.Context, kioskID string, lockerID int, eventType string, details map[string]any) error
}

// ChangeBus is the abstract StateChanged publication channel consumed by
// the (out-of-scope) WebSocket fan-out collaborator.
type ChangeBus interface {
	PublishStateChanged(ctx context.Context, evt StateChanged)
}

// NoopBus discards every notification; useful for tests and standalone
// tools that have no transport wired up.
type NoopBus struct{}

func (NoopBus) PublishStateChanged(context.Context, StateChanged) {}

// Store is the sqlite-backed State Store.
type Store struct {
	db    *sqlx.DB
	sink  EventSink
	bus   ChangeBus
	locks *rowLocks

	ownerMu sync.Mutex
	owners  map[string]*sync.Mutex
}

// New wraps db as a Store. sink receives an event for each committed
// mutation except Reserve/Confirm/Release, whose caller appends the
// operation's event (see publishChange); bus receives a StateChanged
// notification for every committed mutation.
func New(db *sql.DB, sink EventSink, bus ChangeBus) *Store {
	if bus == nil {
		bus = NoopBus{}
	}
	return &Store{
		db:     sqlx.NewDb(db, "sqlite"),
		sink:   sink,
		bus:    bus,
		locks:  newRowLocks(),
		owners: make(map[string]*sync.Mutex),
	}
}

func (s *Store) ownerLock(ownerType OwnerType, ownerKey string) func() {
	key := string(ownerType) + "\x00" + ownerKey
	s.ownerMu.Lock()
	l, ok := s.owners[key]
	if !ok {
		l = &sync.Mutex{}
		s.owners[key] = l
	}
	s.ownerMu.Unlock()
	l.Lock()
	return l.Unlock
}

// get reads the current row, or returns ErrNotFound.
func (s *Store) get(ctx context.Context, kioskID string, lockerID int) (Locker, error) {
	var l Locker
	err := s.db.GetContext(ctx, &l,
		`SELECT kiosk_id, locker_id, status, owner_type, owner_key, reserved_at, owned_at,
		        opening_started_at, version, is_vip, display_name, enabled
		 FROM lockers WHERE kiosk_id = ? AND locker_id = ?`, kioskID, lockerID)
	if err == sql.ErrNoRows {
		return Locker{}, ErrNotFound
	}
	if err != nil {
		return Locker{}, fmt.Errorf("store: get locker: %w", err)
	}
	return l, nil
}

// EnsureLocker creates a Free, non-VIP, enabled row for (kiosk, locker) if
// one does not already exist. Used when a zone is extended and new locker
// ids come into existence, and by test/bootstrap fixtures.
func (s *Store) EnsureLocker(ctx context.Context, kioskID string, lockerID int) error {
	unlock := s.locks.lock(kioskID, lockerID)
	defer unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lockers (kiosk_id, locker_id, status, owner_type, version, is_vip, enabled)
		 VALUES (?, ?, 'free', 'none', 0, 0, 1)
		 ON CONFLICT(kiosk_id, locker_id) DO NOTHING`, kioskID, lockerID)
	if err != nil {
		return fmt.Errorf("store: ensure locker: %w", err)
	}
	return nil
}

// casUpdate runs query against the row at expected version, retries once
// on a version mismatch (spec §4.1: "retries once and otherwise fails
// with busy"), and returns the refreshed row on success.
func (s *Store) casUpdate(ctx context.Context, kioskID string, lockerID int, query string, args ...any) (Locker, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return Locker{}, fmt.Errorf("store: update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Locker{}, fmt.Errorf("store: rows affected: %w", err)
		}
		if n == 1 {
			metrics.StoreConflicts.WithLabelValues("none").Inc()
			return s.get(ctx, kioskID, lockerID)
		}
		metrics.StoreConflicts.WithLabelValues("retried").Inc()
	}
	metrics.StoreConflicts.WithLabelValues("busy").Inc()
	return Locker{}, ErrBusy
}

func (s *Store) publish(ctx context.Context, old Locker, new Locker, eventType string, details map[string]any) {
	s.publishChange(ctx, old, new)
	if s.sink != nil {
		_ = s.sink.Append(ctx, new.KioskID, new.LockerID, eventType, details)
	}
}

// publishChange records the transition for metrics and the change bus
// without appending an audit row. Reserve/Confirm/Release are legs of a
// single logical operation (assign, release) whose caller owns the one
// closed-enum event.Type that operation gets; it appends the audit row
// itself once the whole operation has actually succeeded.
func (s *Store) publishChange(ctx context.Context, old Locker, new Locker) {
	metrics.LockerTransitions.WithLabelValues(string(old.Status), string(new.Status)).Inc()
	s.bus.PublishStateChanged(ctx, StateChanged{
		KioskID: new.KioskID, LockerID: new.LockerID,
		Old: old.Status, New: new.Status, Version: new.Version,
	})
}

func now() int64 { return time.Now().UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
