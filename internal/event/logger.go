package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lockergrid/core/internal/metrics"
)

// Logger is the append-only Event Logger. It implements store.EventSink
// so the State Store can depend on it without importing this package.
type Logger struct {
	db  *sqlx.DB
	bus Bus
}

// New wraps db (already migrated by internal/schema) as a Logger. A nil
// bus disables publication; persistence remains authoritative either way.
func New(db *sqlx.DB, bus Bus) *Logger {
	return &Logger{db: db, bus: bus}
}

// Append persists one event row and publishes a best-effort copy. It
// satisfies store.EventSink's signature exactly.
func (l *Logger) Append(ctx context.Context, kioskID string, lockerID int, eventType string, details map[string]any) error {
	return l.append(ctx, &kioskID, &lockerID, eventType, "", "", details)
}

// AppendTyped is the strongly typed entry point used outside the Store's
// narrow interface, e.g. rfid/qr/staff flows that have a Details variant.
func (l *Logger) AppendTyped(ctx context.Context, kioskID *string, lockerID *int, eventType Type, rfidCard, staffUser string, details Details) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("event: marshal details: %w", err)
	}
	return l.appendRaw(ctx, kioskID, lockerID, string(eventType), rfidCard, staffUser, raw)
}

func (l *Logger) append(ctx context.Context, kioskID *string, lockerID *int, eventType, rfidCard, staffUser string, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("event: marshal details: %w", err)
	}
	return l.appendRaw(ctx, kioskID, lockerID, eventType, rfidCard, staffUser, raw)
}

func (l *Logger) appendRaw(ctx context.Context, kioskID *string, lockerID *int, eventType, rfidCard, staffUser string, details json.RawMessage) error {
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}
	var rfid, staff *string
	if rfidCard != "" {
		rfid = &rfidCard
	}
	if staffUser != "" {
		staff = &staffUser
	}
	ts := time.Now().UTC().UnixMilli()

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO events (ts, kiosk_id, locker_id, event_type, rfid_card, staff_user, details)
		 VALUES (?,?,?,?,?,?,?)`,
		ts, kioskID, lockerID, eventType, rfid, staff, string(details))
	if err != nil {
		return fmt.Errorf("event: insert: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event: last insert id: %w", err)
	}
	metrics.EventsAppended.WithLabelValues(eventType).Inc()

	rec := Record{Seq: seq, TS: ts, KioskID: kioskID, LockerID: lockerID, EventType: eventType, RFIDCard: rfid, StaffUser: staff, Details: string(details)}
	if l.bus != nil {
		topic := TopicAll
		if kioskID != nil {
			topic = *kioskID
		}
		_ = l.bus.Publish(ctx, topic, Message{Topic: topic, Record: rec})
	}
	return nil
}

// Filter narrows a query; zero values are unfiltered.
type Filter struct {
	KioskID   string
	LockerID  int
	RFIDCard  string
	StaffUser string
	EventType string
	Since, Until int64 // UTC millis, 0 = unbounded
	Limit     int
}

// Query returns matching events in ascending seq order.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Record, error) {
	q := `SELECT seq, ts, kiosk_id, locker_id, event_type, rfid_card, staff_user, details FROM events WHERE 1=1`
	var args []any
	if f.KioskID != "" {
		q += " AND kiosk_id = ?"
		args = append(args, f.KioskID)
	}
	if f.LockerID != 0 {
		q += " AND locker_id = ?"
		args = append(args, f.LockerID)
	}
	if f.RFIDCard != "" {
		q += " AND rfid_card = ?"
		args = append(args, f.RFIDCard)
	}
	if f.StaffUser != "" {
		q += " AND staff_user = ?"
		args = append(args, f.StaffUser)
	}
	if f.EventType != "" {
		q += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if f.Since != 0 {
		q += " AND ts >= ?"
		args = append(args, f.Since)
	}
	if f.Until != 0 {
		q += " AND ts <= ?"
		args = append(args, f.Until)
	}
	q += " ORDER BY seq ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []Record
	if err := l.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("event: query: %w", err)
	}
	return rows, nil
}

// Recent returns the last n events in descending seq order.
func (l *Logger) Recent(ctx context.Context, n int) ([]Record, error) {
	var rows []Record
	if err := l.db.SelectContext(ctx, &rows,
		`SELECT seq, ts, kiosk_id, locker_id, event_type, rfid_card, staff_user, details
		 FROM events ORDER BY seq DESC LIMIT ?`, n); err != nil {
		return nil, fmt.Errorf("event: recent: %w", err)
	}
	return rows, nil
}
