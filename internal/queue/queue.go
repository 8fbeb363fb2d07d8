// Package queue is the durable per-kiosk Command Queue Manager (spec
// §4.4): an at-least-once FIFO that kiosks drain by polling over HTTP.
// A poll is answered at once; it does not wait for new commands.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/metrics"
)

// Status is a command's lifecycle position.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Type enumerates the closed set of command types (spec §3).
type Type string

const (
	TypeOpenLocker   Type = "open_locker"
	TypeCloseLocker  Type = "close_locker"
	TypeBulkOpen     Type = "bulk_open"
	TypeBlockLocker  Type = "block_locker"
	TypeUnblockLocker Type = "unblock_locker"
	TypeResetLocker  Type = "reset_locker"
	TypeBuzzer       Type = "buzzer"
)

// Command is one durable unit of work for a kiosk.
type Command struct {
	CommandID      string  `db:"command_id"`
	KioskID        string  `db:"kiosk_id"`
	Type           string  `db:"type"`
	Payload        string  `db:"payload"` // raw JSON
	Status         Status  `db:"status"`
	Attempts       int     `db:"attempts"`
	MaxRetries     int     `db:"max_retries"`
	CreatedAt      int64   `db:"created_at"`
	ScheduledAt    int64   `db:"scheduled_at"`
	LeaseOwner     *string `db:"lease_owner"`
	LeaseExpiresAt *int64  `db:"lease_expires_at"`
	CompletedAt    *int64  `db:"completed_at"`
	LastError      *string `db:"last_error"`
}

// Manager is the sqlite-backed queue.
type Manager struct {
	db            *sqlx.DB
	sink          *event.Logger
	leaseDuration time.Duration
}

// NewManager wraps db. sink receives a commands_cleared event on Clear.
func NewManager(db *sqlx.DB, sink *event.Logger) *Manager {
	return &Manager{db: db, sink: sink, leaseDuration: 60 * time.Second}
}

func now() int64 { return time.Now().UTC().UnixMilli() }

// Enqueue durably appends a command for kioskID, defaulting scheduledAt
// to now and maxRetries to 3 when unset.
func (m *Manager) Enqueue(ctx context.Context, kioskID string, cmdType Type, payload any, maxRetries int) (string, error) {
	if maxRetries == 0 {
		maxRetries = 3
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}
	id := uuid.NewString()
	ts := now()
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO commands (command_id, kiosk_id, type, payload, status, attempts, max_retries, created_at, scheduled_at)
		 VALUES (?,?,?,?,?,0,?,?,?)`,
		id, kioskID, string(cmdType), string(raw), string(StatusPending), maxRetries, ts, ts)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	m.refreshDepth(ctx, kioskID)
	return id, nil
}

// Poll atomically transitions up to maxBatch pending commands for kioskID
// whose scheduled_at has passed to in_progress, leasing them to
// leaseOwner, ordered by scheduled_at.
func (m *Manager) Poll(ctx context.Context, kioskID, leaseOwner string, maxBatch int) ([]Command, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: begin poll: %w", err)
	}
	defer tx.Rollback()

	var candidates []Command
	err = tx.SelectContext(ctx, &candidates,
		`SELECT command_id, kiosk_id, type, payload, status, attempts, max_retries, created_at,
		        scheduled_at, lease_owner, lease_expires_at, completed_at, last_error
		 FROM commands WHERE kiosk_id = ? AND status = ? AND scheduled_at <= ? ORDER BY scheduled_at ASC LIMIT ?`,
		kioskID, string(StatusPending), now(), maxBatch)
	if err != nil {
		return nil, fmt.Errorf("queue: select pending: %w", err)
	}
	if len(candidates) == 0 {
		return nil, tx.Commit()
	}

	leaseExpires := now() + m.leaseDuration.Milliseconds()
	for i := range candidates {
		res, err := tx.ExecContext(ctx,
			`UPDATE commands SET status=?, lease_owner=?, lease_expires_at=? WHERE command_id=? AND status=?`,
			string(StatusInProgress), leaseOwner, leaseExpires, candidates[i].CommandID, string(StatusPending))
		if err != nil {
			return nil, fmt.Errorf("queue: lease command: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue // raced with another poller; skip
		}
		candidates[i].Status = StatusInProgress
		candidates[i].LeaseOwner = &leaseOwner
		candidates[i].LeaseExpiresAt = &leaseExpires
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: commit poll: %w", err)
	}
	m.refreshDepth(ctx, kioskID)
	return candidates, nil
}

// MarkComplete terminates a command successfully.
func (m *Manager) MarkComplete(ctx context.Context, commandID string) error {
	ts := now()
	_, err := m.db.ExecContext(ctx,
		`UPDATE commands SET status=?, completed_at=? WHERE command_id=?`,
		string(StatusCompleted), ts, commandID)
	if err != nil {
		return fmt.Errorf("queue: mark complete: %w", err)
	}
	return nil
}

// MarkFailed records a failure. If attempts remain under max_retries, the
// command is rescheduled to pending with exponential backoff; otherwise
// it becomes terminally failed.
func (m *Manager) MarkFailed(ctx context.Context, commandID, errMsg string) error {
	var c Command
	err := m.db.GetContext(ctx, &c,
		`SELECT command_id, kiosk_id, type, payload, status, attempts, max_retries, created_at,
		        scheduled_at, lease_owner, lease_expires_at, completed_at, last_error
		 FROM commands WHERE command_id = ?`, commandID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("queue: command %s not found", commandID)
	}
	if err != nil {
		return fmt.Errorf("queue: get command: %w", err)
	}

	attempts := c.Attempts + 1
	if attempts < c.MaxRetries {
		next := now() + backoffMillis(attempts)
		_, err = m.db.ExecContext(ctx,
			`UPDATE commands SET status=?, attempts=?, scheduled_at=?, lease_owner=NULL, lease_expires_at=NULL, last_error=?
			 WHERE command_id=?`,
			string(StatusPending), attempts, next, errMsg, commandID)
	} else {
		_, err = m.db.ExecContext(ctx,
			`UPDATE commands SET status=?, attempts=?, completed_at=?, last_error=? WHERE command_id=?`,
			string(StatusFailed), attempts, now(), errMsg, commandID)
	}
	if err != nil {
		return fmt.Errorf("queue: mark failed: %w", err)
	}
	return nil
}

// Clear drops every pending/in_progress command for kioskID (kiosk
// restart path, spec requirement 9.7) and emits commands_cleared.
func (m *Manager) Clear(ctx context.Context, kioskID, reason string) (int, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE commands SET status=?, completed_at=? WHERE kiosk_id=? AND status IN (?,?)`,
		string(StatusCancelled), now(), kioskID, string(StatusPending), string(StatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("queue: clear: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		_ = m.sink.Append(ctx, kioskID, 0, "commands_cleared", map[string]any{
			"cleared_commands": n, "reason": reason,
		})
	}
	m.refreshDepth(ctx, kioskID)
	return int(n), nil
}

// SweepExpiredLeases returns in_progress commands whose lease has
// expired back to pending, incrementing attempts (kiosk crashed
// mid-operation, spec §4.4).
func (m *Manager) SweepExpiredLeases(ctx context.Context) (int, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE commands SET status=?, attempts=attempts+1, lease_owner=NULL, lease_expires_at=NULL
		 WHERE status=? AND lease_expires_at <= ?`,
		string(StatusPending), string(StatusInProgress), now())
	if err != nil {
		return 0, fmt.Errorf("queue: sweep leases: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PendingCount reports pending+in_progress commands for kioskID without
// leasing anything, for the heartbeat response's commands_pending field.
func (m *Manager) PendingCount(ctx context.Context, kioskID string) (int, error) {
	var depth int
	err := m.db.GetContext(ctx, &depth,
		`SELECT COUNT(*) FROM commands WHERE kiosk_id=? AND status IN (?,?)`,
		kioskID, string(StatusPending), string(StatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("queue: pending count: %w", err)
	}
	return depth, nil
}

func (m *Manager) refreshDepth(ctx context.Context, kioskID string) {
	var depth int
	if err := m.db.GetContext(ctx, &depth,
		`SELECT COUNT(*) FROM commands WHERE kiosk_id=? AND status IN (?,?)`,
		kioskID, string(StatusPending), string(StatusInProgress)); err == nil {
		metrics.QueueDepth.WithLabelValues(kioskID).Set(float64(depth))
	}
}

func backoffMillis(attempt int) int64 {
	const maxBackoffMs = 60_000
	if attempt > 16 {
		return maxBackoffMs
	}
	ms := int64(1000) << uint(attempt-1)
	if ms > maxBackoffMs {
		return maxBackoffMs
	}
	return ms
}
