// Package heartbeat is the Heartbeat Manager (spec §4.5): kiosks ping on
// a fixed interval; a sweeper observes absence and marks kiosks offline.
package heartbeat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Status mirrors KioskHeartbeat.status.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusOnline       Status = "online"
	StatusOffline      Status = "offline"
)

// Record is one kiosk's heartbeat row.
type Record struct {
	KioskID                 string  `db:"kiosk_id"`
	Zone                    *string `db:"zone"`
	Version                 *string `db:"version"`
	LastSeen                *int64  `db:"last_seen"`
	Status                  Status  `db:"status"`
	HardwareID              *string `db:"hardware_id"`
	RegistrationSecret      *string `db:"registration_secret"`
	LastConfigHash          *string `db:"last_config_hash"`
	OfflineThresholdSeconds int     `db:"offline_threshold_seconds"`
	Degraded                bool    `db:"degraded"`
}

// Manager tracks kiosk liveness over the shared sqlite schema.
type Manager struct {
	db *sql.DB
}

func NewManager(db *sql.DB) *Manager { return &Manager{db: db} }

func now() int64 { return time.Now().UTC().UnixMilli() }

// Ping records a kiosk heartbeat, transitioning provisioning/offline
// kiosks to online, and returns the kiosk's stored config hash so the
// caller can compare against the current one and signal drift.
func (m *Manager) Ping(ctx context.Context, kioskID, version, configHash string) (Record, error) {
	ts := now()
	_, err := m.db.ExecContext(ctx,
		`UPDATE kiosk_heartbeat SET last_seen=?, version=?, status=?, last_config_hash=?
		 WHERE kiosk_id=?`, ts, version, string(StatusOnline), configHash, kioskID)
	if err != nil {
		return Record{}, fmt.Errorf("heartbeat: ping: %w", err)
	}
	return m.get(ctx, kioskID)
}

// SetDegraded records hardware serializer degradation so staff can see
// it surfaced alongside the heartbeat (spec §7 "Hardware fatal").
func (m *Manager) SetDegraded(ctx context.Context, kioskID string, degraded bool) error {
	_, err := m.db.ExecContext(ctx, `UPDATE kiosk_heartbeat SET degraded=? WHERE kiosk_id=?`, degraded, kioskID)
	if err != nil {
		return fmt.Errorf("heartbeat: set degraded: %w", err)
	}
	return nil
}

func (m *Manager) get(ctx context.Context, kioskID string) (Record, error) {
	var r Record
	err := m.db.QueryRowContext(ctx,
		`SELECT kiosk_id, zone, version, last_seen, status, hardware_id, registration_secret,
		        last_config_hash, offline_threshold_seconds, degraded
		 FROM kiosk_heartbeat WHERE kiosk_id=?`, kioskID).
		Scan(&r.KioskID, &r.Zone, &r.Version, &r.LastSeen, &r.Status, &r.HardwareID,
			&r.RegistrationSecret, &r.LastConfigHash, &r.OfflineThresholdSeconds, &r.Degraded)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("heartbeat: kiosk %s not found", kioskID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("heartbeat: get: %w", err)
	}
	return r, nil
}

// Get returns the current record for kioskID.
func (m *Manager) Get(ctx context.Context, kioskID string) (Record, error) {
	return m.get(ctx, kioskID)
}

// SweepOffline transitions every kiosk whose last_seen exceeds its own
// offline_threshold_seconds to offline. This is a pure observation: the
// command queue continues to accrue work for an offline kiosk rather
// than draining it (spec §4.5).
func (m *Manager) SweepOffline(ctx context.Context) (int, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE kiosk_heartbeat SET status=?
		 WHERE status=? AND last_seen IS NOT NULL AND (? - last_seen) > (offline_threshold_seconds * 1000)`,
		string(StatusOffline), string(StatusOnline), now())
	if err != nil {
		return 0, fmt.Errorf("heartbeat: sweep offline: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// OnlineKioskIDs returns every kiosk currently considered online.
func (m *Manager) OnlineKioskIDs(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT kiosk_id FROM kiosk_heartbeat WHERE status=?`, string(StatusOnline))
	if err != nil {
		return nil, fmt.Errorf("heartbeat: online kiosk ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("heartbeat: scan kiosk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOnline returns the number of kiosks currently online, for the
// gateway's kiosk-fleet health check.
func (m *Manager) CountOnline(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kiosk_heartbeat WHERE status=?`, string(StatusOnline)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("heartbeat: count online: %w", err)
	}
	return n, nil
}
