package model

import "github.com/Veraticus/the-pots-must-flow/internal/money"

// Strategy decides how much of a source balance a sweep moves.
type Strategy string

// Sweep strategies.
const (
	StrategyFixedAmount      Strategy = "fixed_amount"
	StrategyPercentage       Strategy = "percentage"
	StrategyRemainingBalance Strategy = "remaining_balance"
	StrategyAllAvailable     Strategy = "all_available"
)

// SweepSource is one ordered input to a sweep.
type SweepSource struct {
	Amount     *money.Money `json:"amount,omitempty"`
	Percentage *float64     `json:"percentage,omitempty" validate:"omitempty,gte=0,lte=1"`
	MinBalance *money.Money `json:"min_balance,omitempty"`
	Source     SourceRef    `json:"source"`
	Strategy   Strategy     `json:"strategy" validate:"required,oneof=fixed_amount percentage remaining_balance all_available"`
	Priority   int          `json:"priority"`
}

// SweepConfig moves money from several sources into one target pot.
type SweepConfig struct {
	MinTransfer *money.Money  `json:"min_transfer,omitempty"`
	Target      SourceRef     `json:"target"`
	Sources     []SweepSource `json:"sources" validate:"required,min=1,dive"`
	Trigger     TriggerConfig `json:"trigger"`
}

// GoalMethod chooses how goal pots share their pool.
type GoalMethod string

// Goal distribution methods.
const (
	GoalEven     GoalMethod = "even"
	GoalRelative GoalMethod = "relative"
)

// PriorityPolicy decides what happens when a priority pot cannot be fully funded.
type PriorityPolicy string

// Priority underfunding policies.
const (
	PriorityCap          PriorityPolicy = "cap"
	PriorityAllOrNothing PriorityPolicy = "all_or_nothing"
)

// PotAllocation configures one destination pot of the autosorter.
type PotAllocation struct {
	Amount        *money.Money `json:"amount,omitempty"`
	Percentage    *float64     `json:"percentage,omitempty" validate:"omitempty,gte=0,lte=1"`
	Goal          *money.Money `json:"goal,omitempty"`
	MaxAllocation *money.Money `json:"max_allocation,omitempty"`
	PotID         string       `json:"pot_id" validate:"required"`
}

// DefaultPaydayDay is the day of month pay usually lands.
const DefaultPaydayDay = 25

// AutosorterConfig distributes a holding pot across bills, priority, goal
// and investment pots.
type AutosorterConfig struct {
	GoalShare                *float64        `json:"goal_share,omitempty" validate:"omitempty,gt=0,lte=1"`
	HoldingReserve           *money.Money    `json:"holding_reserve,omitempty"`
	HoldingReservePercentage *float64        `json:"holding_reserve_percentage,omitempty" validate:"omitempty,gte=0,lte=1"`
	MinHoldingBalance        *money.Money    `json:"min_holding_balance,omitempty"`
	HoldingPot               string          `json:"holding_pot" validate:"required"`
	BillsPot                 string          `json:"bills_pot,omitempty"`
	GoalMethod               GoalMethod      `json:"goal_method,omitempty" validate:"omitempty,oneof=even relative"`
	PriorityPolicy           PriorityPolicy  `json:"priority_policy,omitempty" validate:"omitempty,oneof=cap all_or_nothing"`
	PriorityPots             []PotAllocation `json:"priority_pots,omitempty" validate:"dive"`
	GoalPots                 []PotAllocation `json:"goal_pots,omitempty" validate:"dive"`
	InvestmentPots           []PotAllocation `json:"investment_pots,omitempty" validate:"dive"`
	Trigger                  TriggerConfig   `json:"trigger"`
	PaydayDay                int             `json:"payday_day,omitempty" validate:"omitempty,min=1,max=31"`
}

// TopupConfig moves a fixed amount into a pot, optionally only up to a target balance.
type TopupConfig struct {
	TargetBalance *money.Money  `json:"target_balance,omitempty"`
	Source        SourceRef     `json:"source"`
	Target        SourceRef     `json:"target"`
	Amount        money.Money   `json:"amount"`
	Trigger       TriggerConfig `json:"trigger"`
}

// BillsConfig keeps a bills pot funded for the spending of the current pay cycle.
type BillsConfig struct {
	Source    SourceRef     `json:"source"`
	BillsPot  string        `json:"bills_pot" validate:"required"`
	Trigger   TriggerConfig `json:"trigger"`
	PaydayDay int           `json:"payday_day,omitempty" validate:"omitempty,min=1,max=31"`
}
