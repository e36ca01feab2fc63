// Package autosort splits the money sitting in a holding pot across the
// bills, priority, goal and investment pots, in that order.
package autosort

import (
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/shopspring/decimal"
)

// Stage names the allocation pass that produced an allocation.
type Stage string

// Allocation stages, in execution order.
const (
	StageBills      Stage = "bills"
	StagePriority   Stage = "priority"
	StageGoal       Stage = "goal"
	StageInvestment Stage = "investment"
)

// PotState is what the allocator knows about a destination pot.
type PotState struct {
	Goal    *money.Money
	Balance money.Money
}

// Input is everything one allocation pass needs.
type Input struct {
	Pots           map[string]PotState
	Config         model.AutosorterConfig
	Holding        money.Money
	BillsShortfall money.Money
}

// Allocation is an amount to move from the holding pot into one pot.
type Allocation struct {
	PotID  string
	Stage  Stage
	Amount money.Money
}

// Plan is the outcome of Allocate. The allocations plus LeftInHolding
// always add up to Available.
type Plan struct {
	Allocations   []Allocation
	Available     money.Money
	Reserved      money.Money
	LeftInHolding money.Money
}

// Total returns the sum of every allocation.
func (p Plan) Total() money.Money {
	total := money.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// AmountFor returns the amount allocated to a pot across all stages.
func (p Plan) AmountFor(potID string) money.Money {
	total := money.Zero
	for _, a := range p.Allocations {
		if a.PotID == potID {
			total = total.Add(a.Amount)
		}
	}
	return total
}

type allocator struct {
	in        Input
	plan      Plan
	remaining money.Money
}

// Allocate computes the distribution plan. It is pure and never moves money.
func Allocate(in Input) Plan {
	a := &allocator{in: in}
	a.plan.Reserved = reserve(in.Config, in.Holding)
	a.plan.Available = money.Max(money.Zero, in.Holding.Sub(a.plan.Reserved))
	a.remaining = a.plan.Available

	a.bills()
	a.priority()
	a.goals()
	a.investments()

	a.plan.LeftInHolding = a.remaining
	return a.plan
}

// reserve is the part of the holding pot that must stay put.
func reserve(cfg model.AutosorterConfig, holding money.Money) money.Money {
	r := money.Zero
	switch {
	case cfg.HoldingReserve != nil:
		r = *cfg.HoldingReserve
	case cfg.HoldingReservePercentage != nil && holding.IsPositive():
		r = holding.MulFloor(decimal.NewFromFloat(*cfg.HoldingReservePercentage))
	}
	if cfg.MinHoldingBalance != nil {
		r = money.Max(r, *cfg.MinHoldingBalance)
	}
	return money.Max(r, money.Zero)
}

func (a *allocator) give(potID string, stage Stage, amount money.Money) {
	amount = amount.Clamp(money.Zero, a.remaining)
	a.remaining = a.remaining.Sub(amount)
	a.plan.Allocations = append(a.plan.Allocations, Allocation{PotID: potID, Stage: stage, Amount: amount})
}

// space is how far a pot is below its goal, or nil when it has no goal.
func (a *allocator) space(p model.PotAllocation) *money.Money {
	state := a.in.Pots[p.PotID]
	goal := p.Goal
	if goal == nil {
		goal = state.Goal
	}
	if goal == nil {
		return nil
	}
	s := money.Max(money.Zero, goal.Sub(state.Balance))
	return &s
}

func (a *allocator) bills() {
	if a.in.Config.BillsPot == "" || !a.in.BillsShortfall.IsPositive() {
		return
	}
	a.give(a.in.Config.BillsPot, StageBills, a.in.BillsShortfall)
}

func (a *allocator) priority() {
	allOrNothing := a.in.Config.PriorityPolicy == model.PriorityAllOrNothing
	stopped := false

	for _, p := range a.in.Config.PriorityPots {
		request := money.Zero
		if p.Amount != nil {
			request = *p.Amount
		}
		if s := a.space(p); s != nil {
			request = money.Min(request, *s)
		}

		if stopped {
			a.give(p.PotID, StagePriority, money.Zero)
			continue
		}
		if allOrNothing && a.remaining.LessThan(request) {
			stopped = true
			a.give(p.PotID, StagePriority, money.Zero)
			continue
		}
		a.give(p.PotID, StagePriority, request)
	}
}

func (a *allocator) goals() {
	pots := a.in.Config.GoalPots
	if len(pots) == 0 || !a.remaining.IsPositive() {
		return
	}

	pool := a.remaining
	if share := a.in.Config.GoalShare; share != nil {
		pool = pool.MulFloor(decimal.NewFromFloat(*share))
	}

	if a.in.Config.GoalMethod == model.GoalRelative {
		a.relativeGoals(pots, pool)
		return
	}

	// Pots that already reached their goal sit out the even split.
	eligible := 0
	for _, p := range pots {
		if s := a.space(p); s == nil || s.IsPositive() {
			eligible++
		}
	}
	each := pool.Div(eligible)

	for _, p := range pots {
		amount := each
		if s := a.space(p); s != nil {
			amount = money.Min(amount, *s)
		}
		a.give(p.PotID, StageGoal, amount)
	}
}

// relativeGoals weights each pot by its distance to goal. Pots without a
// goal, or already at it, get nothing.
func (a *allocator) relativeGoals(pots []model.PotAllocation, pool money.Money) {
	weights := make([]money.Money, len(pots))
	total := money.Zero
	for i, p := range pots {
		if s := a.space(p); s != nil {
			weights[i] = *s
			total = total.Add(*s)
		}
	}

	for i, p := range pots {
		if !total.IsPositive() || !weights[i].IsPositive() {
			a.give(p.PotID, StageGoal, money.Zero)
			continue
		}
		share := pool.MulDivFloor(weights[i].Decimal(), total.Decimal())
		a.give(p.PotID, StageGoal, money.Min(share, weights[i]))
	}
}

func (a *allocator) investments() {
	pots := a.in.Config.InvestmentPots
	if len(pots) == 0 || !a.remaining.IsPositive() {
		return
	}

	// Fixed amounts are served first, in order.
	var sharing []model.PotAllocation
	var percentSum decimal.Decimal
	hasPercent := false
	for _, p := range pots {
		if p.Amount != nil {
			a.give(p.PotID, StageInvestment, a.capInvestment(p, *p.Amount))
			continue
		}
		sharing = append(sharing, p)
		if p.Percentage != nil {
			hasPercent = true
			percentSum = percentSum.Add(decimal.NewFromFloat(*p.Percentage))
		}
	}
	if len(sharing) == 0 || !a.remaining.IsPositive() {
		return
	}

	pool := a.remaining
	shares := make([]money.Money, len(sharing))
	distributed := money.Zero
	for i, p := range sharing {
		switch {
		case hasPercent && percentSum.IsPositive():
			if p.Percentage != nil {
				shares[i] = pool.MulDivFloor(decimal.NewFromFloat(*p.Percentage), percentSum)
			}
		case !hasPercent:
			shares[i] = pool.Div(len(sharing))
		}
		distributed = distributed.Add(shares[i])
	}

	// The flooring residue goes to the last pot that takes a share.
	if residue := pool.Sub(distributed); residue.IsPositive() {
		for i := len(sharing) - 1; i >= 0; i-- {
			if !hasPercent || (sharing[i].Percentage != nil && *sharing[i].Percentage > 0) {
				shares[i] = shares[i].Add(residue)
				break
			}
		}
	}

	for i, p := range sharing {
		a.give(p.PotID, StageInvestment, a.capInvestment(p, shares[i]))
	}
}

func (a *allocator) capInvestment(p model.PotAllocation, amount money.Money) money.Money {
	if p.MaxAllocation != nil {
		amount = money.Min(amount, *p.MaxAllocation)
	}
	if s := a.space(p); s != nil {
		amount = money.Min(amount, *s)
	}
	return amount
}
