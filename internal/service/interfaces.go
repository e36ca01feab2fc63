// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// RuleStore is the plain data-access layer for automation rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	ListRules(ctx context.Context, userID string, enabledOnly bool) ([]model.Rule, error)
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteRule(ctx context.Context, id string) error
	UpdateLastExecuted(ctx context.Context, id string, at time.Time) error
}

// HistoryStore persists execution results and consumed trigger transactions.
type HistoryStore interface {
	SaveExecutionResult(ctx context.Context, result *model.ExecutionResult) error
	ListExecutionResults(ctx context.Context, ruleID string, limit int) ([]model.ExecutionResult, error)
	IsTransactionConsumed(ctx context.Context, ruleID, transactionID string) (bool, error)
	ConsumeTransaction(ctx context.Context, ruleID, transactionID string) error
}

// BalanceCache stores the most recent known balance per entity.
type BalanceCache interface {
	GetCachedBalance(ctx context.Context, ref model.SourceRef) (*model.BalanceSnapshot, error)
	PutCachedBalance(ctx context.Context, snapshot model.BalanceSnapshot) error
}

// Ledger records dedup keys so a transfer executes at most once per window.
type Ledger interface {
	// Seen reports whether the key is reserved or completed.
	Seen(ctx context.Context, key string) (bool, error)
	// Reserve claims the key. It returns false when the key already exists.
	Reserve(ctx context.Context, key, ruleID string) (bool, error)
	// Complete marks a reserved key as executed.
	Complete(ctx context.Context, key string) error
	// Release frees a reserved key after a failed transfer.
	Release(ctx context.Context, key string) error
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	RuleStore
	HistoryStore
	BalanceCache
	Ledger

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Bank is the external banking collaborator.
type Bank interface {
	AccountBalance(ctx context.Context, accountID string) (money.Money, error)
	PotBalance(ctx context.Context, potID string) (money.Money, error)
	ListPots(ctx context.Context) ([]model.PotInfo, error)
	Transfer(ctx context.Context, req TransferRequest) error
	// RecentTransactions lists settled transactions on an account. An empty
	// accountID means the default current account.
	RecentTransactions(ctx context.Context, accountID string, since time.Time) ([]model.Transaction, error)
}

// TransferRequest describes a single money movement.
type TransferRequest struct {
	From     model.SourceRef
	To       model.SourceRef
	Amount   money.Money
	DedupKey string
}

// RetryOptions configures retry behavior.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
