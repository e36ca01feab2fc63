package engine

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// executeTopup moves a fixed amount into the target, never past its
// target balance when one is set.
func (e *Engine) executeTopup(ctx context.Context, ec *ExecContext, cfg *model.TopupConfig, mv mover) {
	m := move{From: cfg.Source, To: cfg.Target, Amount: cfg.Amount}

	ec.Balances.Refresh(ctx, cfg.Source, cfg.Target)

	if cfg.TargetBalance != nil {
		target, err := ec.Balances.Balance(ctx, cfg.Target)
		if err != nil {
			ec.Result.Record(m.outcome(model.OutcomeErrored, "", err.Error()))
			return
		}
		need := cfg.TargetBalance.Sub(target.Amount)
		if !need.IsPositive() {
			ec.Result.Record(m.outcome(model.OutcomeSkipped, "", "target already funded"))
			return
		}
		m.Amount = money.Min(m.Amount, need)
	}

	source, err := ec.Balances.Balance(ctx, cfg.Source)
	if err != nil {
		ec.Result.Record(m.outcome(model.OutcomeErrored, "", err.Error()))
		return
	}
	m.Provenance = source.Provenance

	if source.Amount.LessThan(m.Amount) {
		err := fmt.Errorf("%w: %s holds %s, needs %s", common.ErrInsufficientFunds, cfg.Source, source.Amount, m.Amount)
		ec.Result.Record(m.outcome(model.OutcomeErrored, "", err.Error()))
		return
	}

	if reason, skip := skipReason(m.Amount, e.floor(nil)); skip {
		ec.Result.Record(m.outcome(model.OutcomeSkipped, "", reason))
		return
	}

	ec.Result.Record(mv.Move(ctx, ec, m))
}
