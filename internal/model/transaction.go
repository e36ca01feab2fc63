package model

import (
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// Transaction is a posted movement on an account. Positive amounts are credits.
type Transaction struct {
	CreatedAt   time.Time
	ID          string
	AccountID   string
	Description string
	Amount      money.Money
}

// IsCredit reports whether money came into the account.
func (t Transaction) IsCredit() bool {
	return t.Amount.IsPositive()
}

// PotInfo describes a ring-fenced sub-account. Bills pots that pay direct debits
// have their own transaction account, CurrentAccountID.
type PotInfo struct {
	Goal             *money.Money
	ID               string
	Name             string
	CurrentAccountID string
	Balance          money.Money
	Deleted          bool
}
