// Package schema owns LockerGrid's single embedded relational schema
// (spec §6: "one embedded relational database file"). Every subsystem —
// lockers, VIP contracts, events, commands, heartbeats, provisioning
// tokens — shares one sqlite file; this package is the only place that
// runs migrations against it.
package schema

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, matches teacher
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config mirrors the teacher's sqlite.Config: WAL journaling and a bounded
// busy timeout, mandatory for crash safety per spec §6.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the production-recommended pragmas.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1, // single writer; WAL readers can use a separate pool if needed
	}
}

// Open opens dbPath with WAL journaling and the standard pragmas, and
// migrates it to the latest schema version.
func Open(dbPath string, cfg Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("schema: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies every pending migration to db.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("schema: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("schema: migrate: %w", err)
	}
	return nil
}
