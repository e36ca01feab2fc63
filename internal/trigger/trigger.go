// Package trigger decides whether a rule should fire at a given moment.
// Evaluation is pure: everything it depends on arrives in Input.
package trigger

import (
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// Input is the state a trigger is evaluated against.
type Input struct {
	Now             time.Time
	LastExecuted    *time.Time
	Consumed        func(transactionID string) bool
	Transactions    []model.Transaction
	WatchedBalances []money.Money
}

func (in Input) consumed(id string) bool {
	return in.Consumed != nil && in.Consumed(id)
}

// Decision is the outcome of a trigger evaluation.
type Decision struct {
	Reason        string
	TransactionID string
	Fire          bool
}

func fire(format string, args ...any) Decision {
	return Decision{Fire: true, Reason: fmt.Sprintf(format, args...)}
}

func hold(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// ShouldFire evaluates the trigger predicate.
func ShouldFire(cfg model.TriggerConfig, in Input) Decision {
	now := in.Now
	switch cfg.Kind {
	case model.TriggerManual:
		return hold("manual rules only run on request")
	case model.TriggerMonthly:
		return monthly(cfg, in)
	case model.TriggerWeekly:
		return weekly(cfg, in)
	case model.TriggerBalanceThreshold:
		return balanceThreshold(cfg, in)
	case model.TriggerPaydayDetection, model.TriggerTransactionBased:
		return matchingTransaction(cfg, in)
	case model.TriggerTimeOfDay:
		return timeOfDay(cfg, in)
	case model.TriggerDateRange:
		return dateRange(cfg, in)
	case model.TriggerInterval:
		if in.LastExecuted == nil {
			return fire("never executed")
		}
		elapsed := now.Sub(*in.LastExecuted)
		if elapsed >= time.Duration(cfg.IntervalMinutes)*time.Minute {
			return fire("%s since last execution", elapsed.Truncate(time.Minute))
		}
		return hold("only %s since last execution", elapsed.Truncate(time.Second))
	default:
		return hold("unknown trigger %q", cfg.Kind)
	}
}

func monthly(cfg model.TriggerConfig, in Input) Decision {
	day := clampDay(cfg.DayOfMonth, in.Now)
	if in.Now.Day() != day {
		return hold("today is not day %d", day)
	}
	if in.LastExecuted != nil && sameMonth(*in.LastExecuted, in.Now) {
		return hold("already executed this month")
	}
	return fire("monthly on day %d", day)
}

func weekly(cfg model.TriggerConfig, in Input) Decision {
	if isoWeekday(in.Now) != cfg.Weekday {
		return hold("today is not weekday %d", cfg.Weekday)
	}
	if in.LastExecuted != nil && sameISOWeek(*in.LastExecuted, in.Now) {
		return hold("already executed this week")
	}
	return fire("weekly on %s", in.Now.Weekday())
}

func balanceThreshold(cfg model.TriggerConfig, in Input) Decision {
	if cfg.Threshold == nil {
		return hold("no threshold configured")
	}
	threshold := *cfg.Threshold
	for _, b := range in.WatchedBalances {
		if cfg.Comparison == model.CompareAtMost {
			if !threshold.LessThan(b) {
				return fire("balance %s at or below %s", b, threshold)
			}
			continue
		}
		if b.GreaterOrEqual(threshold) {
			return fire("balance %s at or above %s", b, threshold)
		}
	}
	return hold("no watched balance crossed %s", threshold)
}

// matchingTransaction handles payday detection and transaction triggers.
// The first qualifying credit that has not been consumed fires the rule;
// its ID becomes the dedup identity.
func matchingTransaction(cfg model.TriggerConfig, in Input) Decision {
	since := in.Now.AddDate(0, 0, -cfg.Lookback())

	txns := make([]model.Transaction, len(in.Transactions))
	copy(txns, in.Transactions)
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})

	for _, txn := range txns {
		if !txn.IsCredit() || txn.CreatedAt.Before(since) || txn.CreatedAt.After(in.Now) {
			continue
		}
		if !transactionMatches(cfg, txn) {
			continue
		}
		if in.consumed(txn.ID) {
			continue
		}
		d := fire("%s credit %s %q", cfg.Kind, txn.Amount, txn.Description)
		d.TransactionID = txn.ID
		return d
	}
	return hold("no new qualifying transaction in the last %d days", cfg.Lookback())
}

func transactionMatches(cfg model.TriggerConfig, txn model.Transaction) bool {
	if cfg.Kind == model.TriggerPaydayDetection && txn.Amount.LessThan(cfg.PaydayThreshold()) {
		return false
	}
	if cfg.AmountMin != nil && txn.Amount.LessThan(*cfg.AmountMin) {
		return false
	}
	if cfg.AmountMax != nil && cfg.AmountMax.LessThan(txn.Amount) {
		return false
	}
	ok, err := common.MatchDescription(cfg.Pattern, txn.Description)
	return err == nil && ok
}

func timeOfDay(cfg model.TriggerConfig, in Input) Decision {
	day := clampDay(cfg.DayOfMonth, in.Now)
	if in.Now.Day() != day {
		return hold("today is not day %d", day)
	}
	at := atClock(in.Now, cfg.Hour, cfg.Minute)
	if in.Now.Before(at) {
		return hold("waiting until %s", at.Format("15:04"))
	}
	if in.LastExecuted != nil && sameDate(*in.LastExecuted, in.Now) {
		return hold("already executed today")
	}
	return fire("scheduled for day %d at %s", day, at.Format("15:04"))
}

// dateRange fires once per occurrence of the range. Before the preferred
// time it waits, except on the final day of the range when it fires
// regardless so a missed preferred time is never skipped.
func dateRange(cfg model.TriggerConfig, in Input) Decision {
	start, end, ok := rangeBounds(cfg, in.Now)
	if !ok {
		return hold("outside days %d-%d", cfg.StartDay, cfg.EndDay)
	}
	if in.LastExecuted != nil && !in.LastExecuted.Before(start) {
		return hold("already executed in this range")
	}
	if cfg.Hour != nil && !sameDate(in.Now, end) {
		at := atClock(in.Now, cfg.Hour, cfg.Minute)
		if in.Now.Before(at) {
			return hold("waiting for preferred time %s", at.Format("15:04"))
		}
	}
	if sameDate(in.Now, end) {
		return fire("last day of range %d-%d", cfg.StartDay, cfg.EndDay)
	}
	return fire("within range %d-%d", cfg.StartDay, cfg.EndDay)
}

// rangeBounds returns the start and last day of the range occurrence that
// contains now. Ranges with StartDay > EndDay wrap into the next month.
func rangeBounds(cfg model.TriggerConfig, now time.Time) (time.Time, time.Time, bool) {
	day := now.Day()
	thisMonth := startOfMonth(now)

	if cfg.StartDay <= cfg.EndDay {
		startDay := clampDay(cfg.StartDay, now)
		endDay := clampDay(cfg.EndDay, now)
		if day < startDay || day > endDay {
			return time.Time{}, time.Time{}, false
		}
		return thisMonth.AddDate(0, 0, startDay-1), thisMonth.AddDate(0, 0, endDay-1), true
	}

	// Wrapping range, e.g. 28th to 3rd.
	startDay := clampDay(cfg.StartDay, now)
	if day >= startDay {
		next := thisMonth.AddDate(0, 1, 0)
		return thisMonth.AddDate(0, 0, startDay-1), next.AddDate(0, 0, clampDay(cfg.EndDay, next)-1), true
	}
	endDay := clampDay(cfg.EndDay, now)
	if day <= endDay {
		prev := thisMonth.AddDate(0, -1, 0)
		return prev.AddDate(0, 0, clampDay(cfg.StartDay, prev)-1), thisMonth.AddDate(0, 0, endDay-1), true
	}
	return time.Time{}, time.Time{}, false
}

// Window returns the execution window label used in dedup keys. Two
// evaluations in the same window produce the same label.
func Window(cfg model.TriggerConfig, now time.Time, d Decision) string {
	switch cfg.Kind {
	case model.TriggerMonthly:
		return now.Format("2006-01")
	case model.TriggerWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case model.TriggerDateRange:
		if start, _, ok := rangeBounds(cfg, now); ok {
			return start.Format("2006-01")
		}
		return now.Format("2006-01")
	case model.TriggerTimeOfDay, model.TriggerBalanceThreshold:
		return now.Format("2006-01-02")
	case model.TriggerPaydayDetection, model.TriggerTransactionBased:
		if d.TransactionID != "" {
			return "txn:" + d.TransactionID
		}
		return now.Format("2006-01-02")
	case model.TriggerInterval:
		return now.Format("2006-01-02T15:04")
	default:
		return ManualWindow(now)
	}
}

// ManualWindow is the window used when a rule is run on request.
func ManualWindow(now time.Time) string {
	return "manual:" + now.Format("2006-01-02T15:04")
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func sameDate(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func sameMonth(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func sameISOWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.In(a.Location()).ISOWeek()
	return ay == by && aw == bw
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func daysIn(t time.Time) int {
	return startOfMonth(t).AddDate(0, 1, -1).Day()
}

// clampDay maps a configured day onto the month of t, so day 31 means the
// last day of shorter months.
func clampDay(day int, t time.Time) int {
	if last := daysIn(t); day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

func atClock(now time.Time, hour, minute *int) time.Time {
	h, m := 0, 0
	if hour != nil {
		h = *hour
	}
	if minute != nil {
		m = *minute
	}
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
}
