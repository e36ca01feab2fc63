// Package strategy computes how much a sweep source should give up.
package strategy

import (
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/shopspring/decimal"
)

// ComputeTransferAmount returns the amount to move out of a source holding
// current. The result is always within [0, current]; a source that is
// empty or overdrawn yields zero.
func ComputeTransferAmount(src model.SweepSource, current money.Money) money.Money {
	if !current.IsPositive() {
		return money.Zero
	}

	var amount money.Money
	switch src.Strategy {
	case model.StrategyFixedAmount:
		if src.Amount != nil {
			amount = money.Min(*src.Amount, current)
		}
	case model.StrategyPercentage:
		if src.Percentage != nil {
			amount = current.MulFloor(decimal.NewFromFloat(*src.Percentage))
		}
	case model.StrategyRemainingBalance:
		if src.MinBalance == nil {
			amount = current
		} else {
			amount = current.Sub(*src.MinBalance)
		}
	case model.StrategyAllAvailable:
		amount = current
	}

	return amount.Clamp(money.Zero, current)
}
