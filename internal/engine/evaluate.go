package engine

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/rules"
	"github.com/Veraticus/the-pots-must-flow/internal/trigger"
)

// evaluate gathers the state the rule's trigger reads and evaluates it.
func (e *Engine) evaluate(ctx context.Context, ec *ExecContext, parsed *rules.Parsed) (trigger.Decision, error) {
	cfg := parsed.Trigger
	in := trigger.Input{
		Now:          ec.Now,
		LastExecuted: ec.Rule.LastExecuted,
	}

	switch {
	case cfg.UsesTransactions():
		since := ec.Now.AddDate(0, 0, -cfg.Lookback())
		txns, err := e.bank.RecentTransactions(ctx, "", since)
		if err != nil {
			return trigger.Decision{}, fmt.Errorf("failed to fetch recent transactions: %w", err)
		}
		in.Transactions = txns

		consumed := make(map[string]bool)
		for _, t := range txns {
			ok, err := e.store.IsTransactionConsumed(ctx, ec.Rule.ID, t.ID)
			if err != nil {
				return trigger.Decision{}, fmt.Errorf("failed to check consumed transaction: %w", err)
			}
			consumed[t.ID] = ok
		}
		in.Consumed = func(id string) bool { return consumed[id] }

	case cfg.Kind == model.TriggerBalanceThreshold:
		in.WatchedBalances = e.watchedBalances(ctx, ec, parsed)
	}

	return trigger.ShouldFire(cfg, in), nil
}

// watchedBalances reads the balances a threshold trigger compares. An
// unavailable balance is left out rather than failing the evaluation.
func (e *Engine) watchedBalances(ctx context.Context, ec *ExecContext, parsed *rules.Parsed) []money.Money {
	var refs []model.SourceRef
	switch {
	case parsed.Sweep != nil:
		for _, s := range parsed.Sweep.Sources {
			refs = append(refs, s.Source)
		}
	case parsed.Topup != nil:
		refs = append(refs, parsed.Topup.Target)
	case parsed.Bills != nil:
		refs = append(refs, model.Pot(parsed.Bills.BillsPot))
	case parsed.Autosorter != nil:
		refs = append(refs, model.Pot(parsed.Autosorter.HoldingPot))
	}

	balances := make([]money.Money, 0, len(refs))
	for _, ref := range refs {
		snap, err := ec.Balances.Balance(ctx, ref)
		if err != nil {
			ec.Logger.Warn("watched balance unavailable", "ref", ref.Key(), "error", err)
			continue
		}
		balances = append(balances, snap.Amount)
	}
	return balances
}
