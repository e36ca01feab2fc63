package engine

import (
	"context"

	"github.com/Veraticus/the-pots-must-flow/internal/autosort"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// executeAutosorter distributes the holding pot according to the
// allocation plan. Pots whose balance cannot be read are left out of the
// plan so their share flows to the remaining stages.
func (e *Engine) executeAutosorter(ctx context.Context, ec *ExecContext, cfg *model.AutosorterConfig, mv mover) {
	holding := model.Pot(cfg.HoldingPot)

	refs := []model.SourceRef{holding}
	if cfg.BillsPot != "" {
		refs = append(refs, model.Pot(cfg.BillsPot))
	}
	for _, group := range [][]model.PotAllocation{cfg.PriorityPots, cfg.GoalPots, cfg.InvestmentPots} {
		for _, p := range group {
			refs = append(refs, model.Pot(p.PotID))
		}
	}
	ec.Balances.Refresh(ctx, refs...)

	holdingSnap, err := ec.Balances.Balance(ctx, holding)
	if err != nil {
		ec.Result.Fail(err)
		return
	}

	goals := e.potGoals(ctx, ec)
	states := make(map[string]autosort.PotState)
	unavailable := make(map[string]bool)
	for _, group := range [][]model.PotAllocation{cfg.PriorityPots, cfg.GoalPots, cfg.InvestmentPots} {
		for _, p := range group {
			snap, err := ec.Balances.Balance(ctx, model.Pot(p.PotID))
			if err != nil {
				unavailable[p.PotID] = true
				ec.Result.Record(move{From: holding, To: model.Pot(p.PotID)}.outcome(model.OutcomeErrored, "", err.Error()))
				continue
			}
			states[p.PotID] = autosort.PotState{Balance: snap.Amount, Goal: goals[p.PotID]}
		}
	}

	plannedCfg := *cfg
	plannedCfg.PriorityPots = withoutPots(cfg.PriorityPots, unavailable)
	plannedCfg.GoalPots = withoutPots(cfg.GoalPots, unavailable)
	plannedCfg.InvestmentPots = withoutPots(cfg.InvestmentPots, unavailable)

	shortfall := money.Zero
	if cfg.BillsPot != "" {
		bills, err := e.bills.Shortfall(ctx, ec.Balances, cfg.BillsPot, cfg.PaydayDay, ec.Now)
		if err != nil {
			ec.Result.Record(move{From: holding, To: model.Pot(cfg.BillsPot), Stage: string(autosort.StageBills)}.
				outcome(model.OutcomeErrored, "", err.Error()))
			plannedCfg.BillsPot = ""
		} else {
			shortfall = bills.Shortfall
		}
	}

	plan := autosort.Allocate(autosort.Input{
		Holding:        holdingSnap.Amount,
		Config:         plannedCfg,
		BillsShortfall: shortfall,
		Pots:           states,
	})

	ec.Logger.Info("autosorter plan",
		"holding", holdingSnap.Amount.String(),
		"available", plan.Available.String(),
		"allocated", plan.Total().String(),
		"left_in_holding", plan.LeftInHolding.String())

	floor := e.floor(nil)
	for _, a := range plan.Allocations {
		m := move{
			From:       holding,
			To:         model.Pot(a.PotID),
			Stage:      string(a.Stage),
			Provenance: holdingSnap.Provenance,
			Amount:     a.Amount,
		}
		if reason, skip := skipReason(m.Amount, floor); skip {
			ec.Result.Record(m.outcome(model.OutcomeSkipped, "", reason))
			continue
		}
		ec.Result.Record(mv.Move(ctx, ec, m))
	}
}

// potGoals reads goal amounts set on the pots themselves. A failure only
// means configured goals are used on their own.
func (e *Engine) potGoals(ctx context.Context, ec *ExecContext) map[string]*money.Money {
	goals := make(map[string]*money.Money)
	pots, err := e.bank.ListPots(ctx)
	if err != nil {
		ec.Logger.Warn("failed to read pot goals", "error", err)
		return goals
	}
	for _, p := range pots {
		if p.Goal != nil {
			goals[p.ID] = p.Goal
		}
	}
	return goals
}

func withoutPots(pots []model.PotAllocation, drop map[string]bool) []model.PotAllocation {
	if len(drop) == 0 {
		return pots
	}
	out := make([]model.PotAllocation, 0, len(pots))
	for _, p := range pots {
		if !drop[p.PotID] {
			out = append(out, p)
		}
	}
	return out
}
