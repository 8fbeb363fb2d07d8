package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("auth: invalid staff credentials")

// StaffUsers is the sqlite-backed staff login credential store.
type StaffUsers struct {
	db *sql.DB
}

func NewStaffUsers(db *sql.DB) *StaffUsers { return &StaffUsers{db: db} }

// Create registers a new staff login, hashing the password with bcrypt.
func (s *StaffUsers) Create(ctx context.Context, username, password, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO staff_users (username, password_hash, role, created_at) VALUES (?,?,?,?)`,
		username, string(hash), role, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("auth: create staff user: %w", err)
	}
	return nil
}

// Verify checks username/password and returns an error unless the
// account exists, is enabled, and the password matches.
func (s *StaffUsers) Verify(ctx context.Context, username, password string) error {
	var hash string
	var disabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, disabled FROM staff_users WHERE username=?`, username).
		Scan(&hash, &disabled)
	if err == sql.ErrNoRows {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("auth: lookup staff user: %w", err)
	}
	if disabled {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
