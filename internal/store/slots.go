// ABOUTME: Session token slot store methods backing durable session persistence
// ABOUTME: Each application instance owns one slot holding its token and logged-out sentinel

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSlot returns the slot or ErrNotFound if it was never written.
func (s *SQLiteStore) GetSlot(ctx context.Context, slot string) (*SessionSlot, error) {
	query := `SELECT slot, token, logged_out, updated_at FROM session_slots WHERE slot = ?`

	var out SessionSlot
	var token sql.NullString
	var loggedOut int
	var updatedAt string

	err := s.db.QueryRowContext(ctx, query, slot).Scan(&out.Slot, &token, &loggedOut, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session slot: %w", err)
	}

	out.Token = token.String
	out.LoggedOut = loggedOut != 0
	out.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &out, nil
}

// PutSlotToken stores a token and clears the logged-out sentinel.
func (s *SQLiteStore) PutSlotToken(ctx context.Context, slot, token string) error {
	query := `
		INSERT INTO session_slots (slot, token, logged_out, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(slot) DO UPDATE SET token = excluded.token, logged_out = 0, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, slot, token, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("storing session token: %w", err)
	}
	return nil
}

// ClearSlotToken removes the token but keeps the sentinel as is.
func (s *SQLiteStore) ClearSlotToken(ctx context.Context, slot string) error {
	query := `UPDATE session_slots SET token = NULL, updated_at = ? WHERE slot = ?`

	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), slot); err != nil {
		return fmt.Errorf("clearing session token: %w", err)
	}
	return nil
}

// SetSlotLoggedOut sets or clears the explicit logout sentinel.
func (s *SQLiteStore) SetSlotLoggedOut(ctx context.Context, slot string, loggedOut bool) error {
	flag := 0
	if loggedOut {
		flag = 1
	}

	query := `
		INSERT INTO session_slots (slot, token, logged_out, updated_at)
		VALUES (?, NULL, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET logged_out = excluded.logged_out, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, slot, flag, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("setting logged-out flag: %w", err)
	}
	return nil
}

// DeleteSlot removes a slot entirely. Idempotent.
func (s *SQLiteStore) DeleteSlot(ctx context.Context, slot string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_slots WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("deleting session slot: %w", err)
	}
	return nil
}
