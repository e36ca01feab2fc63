package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	keyReserved  = "reserved"
	keyCompleted = "completed"
)

// Seen reports whether a dedup key has been reserved or completed.
func (s *SQLiteStorage) Seen(ctx context.Context, key string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(key, "key"); err != nil {
		return false, err
	}

	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM dedup_keys WHERE key = ?`, key).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query dedup key: %w", err)
	}
	return true, nil
}

// Reserve claims a dedup key. It returns false when the key already exists.
// A reservation left behind by a crash keeps blocking the key, so a transfer
// whose outcome is unknown is never repeated automatically.
func (s *SQLiteStorage) Reserve(ctx context.Context, key, ruleID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(key, "key"); err != nil {
		return false, err
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO dedup_keys (key, rule_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, key, ruleID, keyReserved, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to reserve dedup key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// Complete marks a reserved key as executed.
func (s *SQLiteStorage) Complete(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE dedup_keys SET state = ?, updated_at = ? WHERE key = ?`, keyCompleted, s.now(), key)
	if err != nil {
		return fmt.Errorf("failed to complete dedup key: %w", err)
	}
	return nil
}

// Release frees a reservation so a failed transfer can be retried later.
// Completed keys are never released.
func (s *SQLiteStorage) Release(ctx context.Context, key string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup_keys WHERE key = ? AND state = ?`, key, keyReserved)
	if err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}
	return nil
}
