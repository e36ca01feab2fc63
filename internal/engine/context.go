package engine

import (
	"log/slog"
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/balance"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

// ExecContext carries everything one rule execution needs. It is created
// per execution and never shared between rules.
type ExecContext struct {
	Now    time.Time
	Rule   *model.Rule
	Result *model.ExecutionResult
	Logger *slog.Logger
	// Balances reuses live reads for the rest of this execution only.
	Balances *balance.Session
	UserID   string
	// Window is the trigger window label used in dedup keys.
	Window string
	DryRun bool
}

func (e *Engine) newExecContext(rule *model.Rule, m mode) *ExecContext {
	now := e.now()
	return &ExecContext{
		Now:      now,
		Rule:     rule,
		UserID:   rule.UserID,
		DryRun:   m.dryRun,
		Balances: e.balances.Session(),
		Logger: e.logger.With(
			"rule_id", rule.ID,
			"rule_type", rule.Type,
			"mode", m.String()),
		Result: &model.ExecutionResult{
			ID:        e.newID(),
			RuleID:    rule.ID,
			UserID:    rule.UserID,
			RuleType:  rule.Type,
			StartedAt: now,
			DryRun:    m.dryRun,
		},
	}
}
