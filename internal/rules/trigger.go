package rules

import (
	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

// CheckTrigger verifies that the fields required by the trigger's kind are set.
func CheckTrigger(t model.TriggerConfig) error {
	if err := validate.Struct(t); err != nil {
		return translate(err)
	}

	switch t.Kind {
	case model.TriggerMonthly:
		if t.DayOfMonth == 0 {
			return common.NewConfigError("trigger.day_of_month", "monthly trigger needs a day of month")
		}
	case model.TriggerWeekly:
		if t.Weekday == 0 {
			return common.NewConfigError("trigger.weekday", "weekly trigger needs a weekday (1=Monday)")
		}
	case model.TriggerBalanceThreshold:
		if t.Threshold == nil {
			return common.NewConfigError("trigger.threshold", "balance trigger needs a threshold")
		}
	case model.TriggerPaydayDetection:
		if t.Threshold != nil && !t.Threshold.IsPositive() {
			return common.NewConfigError("trigger.threshold", "payday threshold must be positive")
		}
	case model.TriggerTimeOfDay:
		if t.DayOfMonth == 0 || t.Hour == nil {
			return common.NewConfigError("trigger", "time_of_day trigger needs day_of_month and hour")
		}
	case model.TriggerTransactionBased:
		if t.Pattern == "" {
			return common.NewConfigError("trigger.pattern", "transaction trigger needs a pattern")
		}
		if t.AmountMin != nil && t.AmountMax != nil && t.AmountMax.LessThan(*t.AmountMin) {
			return common.NewConfigError("trigger.amount_max", "must not be below amount_min")
		}
	case model.TriggerDateRange:
		if t.StartDay == 0 || t.EndDay == 0 {
			return common.NewConfigError("trigger", "date_range trigger needs start_day and end_day")
		}
		if t.Minute != nil && t.Hour == nil {
			return common.NewConfigError("trigger.hour", "preferred minute needs a preferred hour")
		}
	case model.TriggerInterval:
		if t.IntervalMinutes == 0 {
			return common.NewConfigError("trigger.interval_minutes", "interval trigger needs interval_minutes")
		}
	}

	if t.Pattern != "" {
		if _, err := common.MatchDescription(t.Pattern, ""); err != nil {
			return common.NewConfigError("trigger.pattern", "invalid pattern: %v", err)
		}
	}
	return nil
}
