package monzo

import (
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// Monzo API response types.
type accountList struct {
	Accounts []account `json:"accounts"`
}

type account struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Closed bool   `json:"closed"`
}

type balanceResponse struct {
	Currency     string `json:"currency"`
	Balance      int64  `json:"balance"`
	TotalBalance int64  `json:"total_balance"`
}

type potList struct {
	Pots []pot `json:"pots"`
}

type pot struct {
	GoalAmount       *int64 `json:"goal_amount"`
	ID               string `json:"id"`
	Name             string `json:"name"`
	Currency         string `json:"currency"`
	CurrentAccountID string `json:"current_account_id"`
	Balance          int64  `json:"balance"`
	Deleted          bool   `json:"deleted"`
}

type transactionList struct {
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	Created       time.Time `json:"created"`
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Description   string    `json:"description"`
	DeclineReason string    `json:"decline_reason"`
	Amount        int64     `json:"amount"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p pot) toModel() model.PotInfo {
	out := model.PotInfo{
		ID:               p.ID,
		Name:             p.Name,
		CurrentAccountID: p.CurrentAccountID,
		Balance:          money.FromMinor(p.Balance),
		Deleted:          p.Deleted,
	}
	if p.GoalAmount != nil && *p.GoalAmount > 0 {
		goal := money.FromMinor(*p.GoalAmount)
		out.Goal = &goal
	}
	return out
}

func (t transaction) toModel() model.Transaction {
	return model.Transaction{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Description: t.Description,
		Amount:      money.FromMinor(t.Amount),
		CreatedAt:   t.Created,
	}
}
