package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// GetCachedBalance returns the most recent cached balance for an entity.
func (s *SQLiteStorage) GetCachedBalance(ctx context.Context, ref model.SourceRef) (*model.BalanceSnapshot, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}

	var (
		amount int64
		snap   model.BalanceSnapshot
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT amount, fetched_at FROM balances WHERE ref_key = ?`, ref.Key()).Scan(&amount, &snap.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cached balance for %s: %w", ref, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cached balance: %w", err)
	}

	snap.Ref = ref
	snap.Amount = money.FromMinor(amount)
	snap.Provenance = model.ProvenanceStale
	return &snap, nil
}

// PutCachedBalance stores the latest known balance for an entity.
func (s *SQLiteStorage) PutCachedBalance(ctx context.Context, snapshot model.BalanceSnapshot) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(snapshot.Ref); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (ref_key, kind, entity_id, amount, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ref_key) DO UPDATE SET
			amount = excluded.amount,
			fetched_at = excluded.fetched_at`,
		snapshot.Ref.Key(), string(snapshot.Ref.Kind), snapshot.Ref.ID,
		snapshot.Amount.Minor(), snapshot.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}
