package model

import "github.com/Veraticus/the-pots-must-flow/internal/money"

// TriggerKind selects which predicate decides whether a rule fires.
type TriggerKind string

// Trigger kinds.
const (
	TriggerManual           TriggerKind = "manual"
	TriggerMonthly          TriggerKind = "monthly"
	TriggerWeekly           TriggerKind = "weekly"
	TriggerBalanceThreshold TriggerKind = "balance_threshold"
	TriggerPaydayDetection  TriggerKind = "payday_detection"
	TriggerTimeOfDay        TriggerKind = "time_of_day"
	TriggerTransactionBased TriggerKind = "transaction_based"
	TriggerDateRange        TriggerKind = "date_range"
	TriggerInterval         TriggerKind = "interval"
)

// Threshold comparisons.
const (
	CompareAtLeast = "at_least"
	CompareAtMost  = "at_most"
)

// Trigger defaults.
const (
	DefaultLookbackDays    = 3
	DefaultPaydayThreshold = 50000
)

// TriggerConfig is a tagged union keyed by Kind. Only the fields that
// belong to Kind are read.
type TriggerConfig struct {
	Threshold       *money.Money `json:"threshold,omitempty"`
	AmountMin       *money.Money `json:"amount_min,omitempty"`
	AmountMax       *money.Money `json:"amount_max,omitempty"`
	Hour            *int         `json:"hour,omitempty" validate:"omitempty,min=0,max=23"`
	Minute          *int         `json:"minute,omitempty" validate:"omitempty,min=0,max=59"`
	Kind            TriggerKind  `json:"type" validate:"required,oneof=manual monthly weekly balance_threshold payday_detection time_of_day transaction_based date_range interval"`
	Comparison      string       `json:"comparison,omitempty" validate:"omitempty,oneof=at_least at_most"`
	Pattern         string       `json:"pattern,omitempty"`
	DayOfMonth      int          `json:"day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	Weekday         int          `json:"weekday,omitempty" validate:"omitempty,min=1,max=7"`
	LookbackDays    int          `json:"lookback_days,omitempty" validate:"omitempty,min=1,max=90"`
	StartDay        int          `json:"start_day,omitempty" validate:"omitempty,min=1,max=31"`
	EndDay          int          `json:"end_day,omitempty" validate:"omitempty,min=1,max=31"`
	IntervalMinutes int          `json:"interval_minutes,omitempty" validate:"omitempty,min=1"`
}

// Lookback returns the configured lookback window in days.
func (t TriggerConfig) Lookback() int {
	if t.LookbackDays > 0 {
		return t.LookbackDays
	}
	return DefaultLookbackDays
}

// PaydayThreshold returns the minimum credit that counts as payday.
func (t TriggerConfig) PaydayThreshold() money.Money {
	if t.Threshold != nil {
		return *t.Threshold
	}
	return money.FromMinor(DefaultPaydayThreshold)
}

// UsesTransactions reports whether the trigger reads recent transactions.
func (t TriggerConfig) UsesTransactions() bool {
	return t.Kind == TriggerPaydayDetection || t.Kind == TriggerTransactionBased
}
