package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
)

// LastPayday returns the start of the most recent payday on or before now.
// Paydays beyond the end of a month fall on its last day.
func LastPayday(now time.Time, day int) time.Time {
	if day <= 0 {
		day = model.DefaultPaydayDay
	}
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	payday := thisMonth.AddDate(0, 0, clampToMonth(day, thisMonth)-1)
	if !payday.After(now) {
		return payday
	}
	prevMonth := thisMonth.AddDate(0, -1, 0)
	return prevMonth.AddDate(0, 0, clampToMonth(day, prevMonth)-1)
}

func clampToMonth(day int, monthStart time.Time) int {
	last := monthStart.AddDate(0, 1, -1).Day()
	if day > last {
		return last
	}
	return day
}

// BalanceReader reads one balance.
type BalanceReader interface {
	Balance(ctx context.Context, ref model.SourceRef) (model.BalanceSnapshot, error)
}

// BillsShortfall is how far a bills pot is from covering this pay cycle.
type BillsShortfall struct {
	Since     time.Time
	Balance   model.BalanceSnapshot
	Outgoings money.Money
	Shortfall money.Money
}

// BillsCalculator works out bills pot shortfalls from the pot's own
// transaction account.
type BillsCalculator struct {
	bank service.Bank
}

// NewBillsCalculator creates a calculator reading from the bank.
func NewBillsCalculator(bank service.Bank) *BillsCalculator {
	return &BillsCalculator{bank: bank}
}

// Shortfall returns max(0, outgoings since the last payday - pot balance).
func (c *BillsCalculator) Shortfall(ctx context.Context, balances BalanceReader, potID string, paydayDay int, now time.Time) (BillsShortfall, error) {
	since := LastPayday(now, paydayDay)
	out := BillsShortfall{Since: since, Outgoings: money.Zero, Shortfall: money.Zero}

	spent, err := c.Outgoings(ctx, potID, since, now)
	if err != nil {
		return out, err
	}
	out.Outgoings = spent

	snap, err := balances.Balance(ctx, model.Pot(potID))
	if err != nil {
		return out, err
	}
	out.Balance = snap
	out.Shortfall = money.Max(spent.Sub(snap.Amount), money.Zero)
	return out, nil
}

// Outgoings totals the debits on the pot's transaction account in [since, now].
// Bills pots that pay direct debits have their own account, which is where
// the outgoings are read from.
func (c *BillsCalculator) Outgoings(ctx context.Context, potID string, since, now time.Time) (money.Money, error) {
	pots, err := c.bank.ListPots(ctx)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to list pots: %w", err)
	}

	var account string
	for _, p := range pots {
		if p.ID == potID {
			account = p.CurrentAccountID
			break
		}
	}
	if account == "" {
		return money.Zero, fmt.Errorf("bills pot %s has no transaction account: %w", potID, common.ErrNotFound)
	}

	txns, err := c.bank.RecentTransactions(ctx, account, since)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to fetch bills pot transactions: %w", err)
	}

	spent := money.Zero
	for _, t := range txns {
		if t.Amount.IsPositive() || t.CreatedAt.Before(since) || t.CreatedAt.After(now) {
			continue
		}
		spent = spent.Sub(t.Amount)
	}
	return spent, nil
}

// executeBills tops the bills pot up to what it has paid out since payday.
func (e *Engine) executeBills(ctx context.Context, ec *ExecContext, cfg *model.BillsConfig, mv mover) {
	target := model.Pot(cfg.BillsPot)
	m := move{From: cfg.Source, To: target, Stage: "bills"}

	ec.Balances.Refresh(ctx, cfg.Source, target)

	bills, err := e.bills.Shortfall(ctx, ec.Balances, cfg.BillsPot, cfg.PaydayDay, ec.Now)
	if err != nil {
		ec.Result.Record(m.outcome(model.OutcomeErrored, "", err.Error()))
		return
	}
	if !bills.Outgoings.IsPositive() {
		ec.Result.Record(m.outcome(model.OutcomeSkipped, "", "no bills paid since payday"))
		return
	}
	if !bills.Shortfall.IsPositive() {
		ec.Result.Record(m.outcome(model.OutcomeSkipped, "", "bills pot already covers this cycle"))
		return
	}

	snap, err := ec.Balances.Balance(ctx, cfg.Source)
	if err != nil {
		ec.Result.Record(m.outcome(model.OutcomeErrored, "", err.Error()))
		return
	}
	m.Provenance = snap.Provenance
	m.Amount = money.Min(bills.Shortfall, money.Max(snap.Amount, money.Zero))

	if reason, skip := skipReason(m.Amount, e.floor(nil)); skip {
		ec.Result.Record(m.outcome(model.OutcomeSkipped, "", reason))
		return
	}
	if m.Amount.LessThan(bills.Shortfall) {
		ec.Logger.Warn("source cannot cover bills in full", "shortfall", bills.Shortfall.String(), "available", snap.Amount.String())
	}

	ec.Result.Record(mv.Move(ctx, ec, m))
}
