// Package testutil provides shared test helpers for the pots project.
package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// MustCreateRule stores a rule whose config is the JSON encoding of cfg.
//
// Example:
//
//	rule := db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{...})
func (db *TestDB) MustCreateRule(id string, ruleType model.RuleType, cfg any) *model.Rule {
	db.t.Helper()

	raw, err := json.Marshal(cfg)
	if err != nil {
		db.t.Fatalf("failed to marshal rule config: %v", err)
	}

	rule := &model.Rule{
		ID:      id,
		UserID:  "user_test",
		Name:    id,
		Type:    ruleType,
		Config:  raw,
		Enabled: true,
	}
	if err := db.Storage.CreateRule(context.Background(), rule); err != nil {
		db.t.Fatalf("failed to seed rule %q: %v", id, err)
	}
	return rule
}
