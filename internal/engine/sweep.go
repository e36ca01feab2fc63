package engine

import (
	"context"
	"sort"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/strategy"
)

// executeSweep moves money from each source into the target pot, in
// priority order. A failing source never stops the remaining sources.
func (e *Engine) executeSweep(ctx context.Context, ec *ExecContext, cfg *model.SweepConfig, mv mover) {
	refs := make([]model.SourceRef, 0, len(cfg.Sources)+1)
	for _, s := range cfg.Sources {
		refs = append(refs, s.Source)
	}
	refs = append(refs, cfg.Target)
	ec.Balances.Refresh(ctx, refs...)

	sources := make([]model.SweepSource, len(cfg.Sources))
	copy(sources, cfg.Sources)
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority < sources[j].Priority
	})

	floor := e.floor(cfg.MinTransfer)

	for _, src := range sources {
		m := move{From: src.Source, To: cfg.Target}

		snap, err := ec.Balances.Balance(ctx, src.Source)
		if err != nil {
			ec.Result.Record(m.outcome(model.OutcomeErrored, "", err.Error()))
			continue
		}
		m.Provenance = snap.Provenance

		m.Amount = strategy.ComputeTransferAmount(src, snap.Amount)
		if reason, skip := skipReason(m.Amount, floor); skip {
			ec.Result.Record(m.outcome(model.OutcomeSkipped, "", reason))
			continue
		}

		ec.Result.Record(mv.Move(ctx, ec, m))
	}
}

// floor returns the minimum transfer for a rule.
func (e *Engine) floor(ruleFloor *money.Money) money.Money {
	if ruleFloor != nil {
		return *ruleFloor
	}
	return e.config.MinTransfer
}

func skipReason(amount, floor money.Money) (string, bool) {
	if !amount.IsPositive() {
		return "nothing to move", true
	}
	if amount.LessThan(floor) {
		return "below minimum transfer of " + floor.String(), true
	}
	return "", false
}
