package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

// SaveExecutionResult stores a rule execution for later review.
func (s *SQLiteStorage) SaveExecutionResult(ctx context.Context, result *model.ExecutionResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateResult(result); err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal execution result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_results (id, rule_id, status, dry_run, started_at, result)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID, result.RuleID, string(result.Status), result.DryRun, result.StartedAt.UTC(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution result: %w", err)
	}
	return nil
}

// ListExecutionResults returns the most recent executions of a rule, newest first.
func (s *SQLiteStorage) ListExecutionResults(ctx context.Context, ruleID string, limit int) ([]model.ExecutionResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ruleID, "ruleID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result FROM execution_results
		WHERE rule_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.ExecutionResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution result: %w", err)
		}
		var result model.ExecutionResult
		if err := json.Unmarshal([]byte(data), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// IsTransactionConsumed reports whether a trigger transaction already fired a rule.
func (s *SQLiteStorage) IsTransactionConsumed(ctx context.Context, ruleID, transactionID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM consumed_transactions WHERE rule_id = ? AND transaction_id = ?`,
		ruleID, transactionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query consumed transaction: %w", err)
	}
	return true, nil
}

// ConsumeTransaction marks a trigger transaction as used by a rule.
func (s *SQLiteStorage) ConsumeTransaction(ctx context.Context, ruleID, transactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ruleID, "ruleID"); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO consumed_transactions (rule_id, transaction_id, consumed_at)
		VALUES (?, ?, ?)`, ruleID, transactionID, s.now())
	if err != nil {
		return fmt.Errorf("failed to consume transaction: %w", err)
	}
	return nil
}
