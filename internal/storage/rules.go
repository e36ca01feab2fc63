package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

// ErrRuleNotFound is returned when a rule does not exist.
var ErrRuleNotFound = fmt.Errorf("rule %w", common.ErrNotFound)

const ruleColumns = `id, user_id, name, rule_type, config, enabled, last_executed, created_at, updated_at`

// CreateRule inserts a new rule.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (id, user_id, name, rule_type, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, rule.Name, string(rule.Type), string(rule.Config), rule.Enabled, now, now,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: rule %s", common.ErrDuplicateEntry, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	slog.Info("created rule", "id", rule.ID, "type", rule.Type, "name", rule.Name)
	return nil
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return rule, nil
}

// ListRules returns a user's rules ordered by creation time. An empty
// userID lists every user's rules.
func (s *SQLiteStorage) ListRules(ctx context.Context, userID string, enabledOnly bool) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE (? = '' OR user_id = ?)`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// SetRuleEnabled toggles whether a rule is evaluated.
func (s *SQLiteStorage) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.updateRule(ctx, id, `UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, s.now(), id)
}

// DeleteRule removes a rule and its consumed-transaction markers.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	if err := s.updateRule(ctx, id, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM consumed_transactions WHERE rule_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete consumed transactions: %w", err)
	}
	slog.Info("deleted rule", "id", id)
	return nil
}

// UpdateLastExecuted records when a rule last fired.
func (s *SQLiteStorage) UpdateLastExecuted(ctx context.Context, id string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.updateRule(ctx, id, `UPDATE rules SET last_executed = ?, updated_at = ? WHERE id = ?`, at.UTC(), s.now(), id)
}

func (s *SQLiteStorage) updateRule(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var (
		rule         model.Rule
		ruleType     string
		config       string
		lastExecuted sql.NullTime
	)

	if err := row.Scan(
		&rule.ID, &rule.UserID, &rule.Name, &ruleType, &config, &rule.Enabled,
		&lastExecuted, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Type = model.RuleType(ruleType)
	rule.Config = []byte(config)
	if lastExecuted.Valid {
		t := lastExecuted.Time
		rule.LastExecuted = &t
	}
	return &rule, nil
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
