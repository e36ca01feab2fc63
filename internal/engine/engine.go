// Package engine evaluates pot automation rules and executes the transfers
// they call for.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Veraticus/the-pots-must-flow/internal/balance"
	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/rules"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
	"github.com/Veraticus/the-pots-must-flow/internal/trigger"
)

// Store is the persistence the engine needs.
type Store interface {
	service.RuleStore
	service.HistoryStore
	service.BalanceCache
}

// Engine orchestrates rule evaluation and execution.
type Engine struct {
	store    Store
	ledger   service.Ledger
	bank     service.Bank
	balances *balance.Provider
	bills    *BillsCalculator
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	locks    sync.Map
	group    singleflight.Group
	config   Config
}

// Config holds configuration options for the engine.
type Config struct {
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// MinTransfer is the global floor below which transfers are skipped.
	// A rule's own min_transfer takes precedence.
	MinTransfer money.Money
	// RefreshConcurrency bounds parallel balance refreshes.
	RefreshConcurrency int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Now:                time.Now,
		MinTransfer:        money.FromMinor(1),
		RefreshConcurrency: 4,
	}
}

// New creates an engine with the default configuration.
func New(store Store, ledger service.Ledger, bank service.Bank) *Engine {
	return NewWithConfig(store, ledger, bank, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(store Store, ledger service.Ledger, bank service.Bank, config Config) *Engine {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.RefreshConcurrency <= 0 {
		config.RefreshConcurrency = 4
	}

	return &Engine{
		store:  store,
		ledger: ledger,
		bank:   bank,
		balances: balance.NewProvider(bank, store,
			balance.WithClock(config.Now),
			balance.WithConcurrency(config.RefreshConcurrency)),
		bills:  NewBillsCalculator(bank),
		logger: slog.Default().With("component", "engine"),
		now:    config.Now,
		newID:  uuid.NewString,
		config: config,
	}
}

// mode selects how a rule run behaves.
type mode struct {
	dryRun bool
	force  bool
}

func (m mode) String() string {
	switch {
	case m.dryRun && m.force:
		return "preview"
	case m.dryRun:
		return "dry_run"
	case m.force:
		return "execute_now"
	default:
		return "evaluate"
	}
}

// EvaluateAndExecute evaluates the rule's trigger and, when it fires,
// executes the rule. A malformed config returns a rejected result together
// with an error matching common.ErrConfiguration; nothing is transferred.
func (e *Engine) EvaluateAndExecute(ctx context.Context, ruleID string) (*model.ExecutionResult, error) {
	return e.serialize(ctx, ruleID, mode{})
}

// DryRun performs the same computation as EvaluateAndExecute but only
// reports the transfers it would make.
func (e *Engine) DryRun(ctx context.Context, ruleID string) (*model.ExecutionResult, error) {
	return e.serialize(ctx, ruleID, mode{dryRun: true})
}

// ExecuteNow executes the rule immediately, ignoring its trigger.
func (e *Engine) ExecuteNow(ctx context.Context, ruleID string) (*model.ExecutionResult, error) {
	return e.serialize(ctx, ruleID, mode{force: true})
}

// PreviewNow reports what ExecuteNow would transfer.
func (e *Engine) PreviewNow(ctx context.Context, ruleID string) (*model.ExecutionResult, error) {
	return e.serialize(ctx, ruleID, mode{dryRun: true, force: true})
}

// ShouldFireNow evaluates only the rule's trigger.
func (e *Engine) ShouldFireNow(ctx context.Context, ruleID string) (bool, string, error) {
	rule, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return false, "", err
	}
	if !rule.Enabled {
		return false, common.ErrRuleDisabled.Error(), nil
	}

	parsed, err := rules.Parse(rule)
	if err != nil {
		return false, "", err
	}

	decision, err := e.evaluate(ctx, e.newExecContext(rule, mode{dryRun: true}), parsed)
	if err != nil {
		return false, "", err
	}
	return decision.Fire, decision.Reason, nil
}

// RunDue evaluates every enabled rule of a user and executes those whose
// trigger fires. One rule failing never stops the others.
func (e *Engine) RunDue(ctx context.Context, userID string) ([]*model.ExecutionResult, error) {
	list, err := e.store.ListRules(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	results := make([]*model.ExecutionResult, 0, len(list))
	for _, rule := range list {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := e.EvaluateAndExecute(ctx, rule.ID)
		if err != nil && !errors.Is(err, common.ErrConfiguration) {
			e.logger.Error("rule evaluation failed", "rule_id", rule.ID, "error", err)
			continue
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results, nil
}

// serialize runs at most one execution per rule at a time. Identical
// concurrent requests share one execution.
func (e *Engine) serialize(ctx context.Context, ruleID string, m mode) (*model.ExecutionResult, error) {
	v, err, _ := e.group.Do(ruleID+"/"+m.String(), func() (any, error) {
		lock := e.ruleLock(ruleID)
		lock.Lock()
		defer lock.Unlock()
		return e.run(ctx, ruleID, m)
	})

	result, _ := v.(*model.ExecutionResult)
	return result, err
}

func (e *Engine) ruleLock(ruleID string) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(ruleID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (e *Engine) run(ctx context.Context, ruleID string, m mode) (*model.ExecutionResult, error) {
	rule, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	ec := e.newExecContext(rule, m)
	result := ec.Result

	if !rule.Enabled {
		result.Status = model.StatusNotFired
		result.TriggerReason = common.ErrRuleDisabled.Error()
		result.Finish(ec.Now)
		return result, nil
	}

	parsed, err := rules.Parse(rule)
	if err != nil {
		result.Status = model.StatusRejected
		result.Fail(err)
		result.Finish(ec.Now)
		ec.Logger.Warn("rule rejected", "error", err)
		return result, err
	}

	var decision trigger.Decision
	if m.force {
		decision = trigger.Decision{Fire: true, Reason: "manual execution"}
		ec.Window = trigger.ManualWindow(ec.Now)
	} else {
		decision, err = e.evaluate(ctx, ec, parsed)
		if err != nil {
			result.Status = model.StatusFailed
			result.Fail(err)
			result.Finish(e.now())
			return result, nil
		}
		ec.Window = trigger.Window(parsed.Trigger, ec.Now, decision)
	}

	result.Fired = decision.Fire
	result.TriggerReason = decision.Reason
	if !decision.Fire {
		result.Status = model.StatusNotFired
		result.Finish(e.now())
		ec.Logger.Debug("trigger did not fire", "reason", decision.Reason)
		return result, nil
	}

	ec.Logger.Info("executing rule", "reason", decision.Reason, "window", ec.Window, "dry_run", m.dryRun)

	mover := e.moverFor(m)
	switch rule.Type {
	case model.RuleTypePotSweep:
		e.executeSweep(ctx, ec, parsed.Sweep, mover)
	case model.RuleTypeAutosorter:
		e.executeAutosorter(ctx, ec, parsed.Autosorter, mover)
	case model.RuleTypeAutoTopup:
		e.executeTopup(ctx, ec, parsed.Topup, mover)
	case model.RuleTypeBillsPot:
		e.executeBills(ctx, ec, parsed.Bills, mover)
	}

	result.Finish(e.now())
	ec.Logger.Info("rule finished",
		"status", result.Status,
		"moved", result.TotalMoved.String(),
		"succeeded", result.Succeeded,
		"errored", result.Errored,
		"skipped", result.Skipped)

	if !m.dryRun {
		e.record(ctx, ec, decision)
	}
	return result, nil
}

// record persists the outcome of a real execution. Failures here are
// logged; the transfers have already happened.
func (e *Engine) record(ctx context.Context, ec *ExecContext, decision trigger.Decision) {
	ruleID := ec.Rule.ID

	if err := e.store.SaveExecutionResult(ctx, ec.Result); err != nil {
		common.LogError(err, "failed to save execution result", common.Fields{"rule_id": ruleID})
	}

	// A run that moved nothing and hit errors has not used up its window.
	if ec.Result.Succeeded == 0 && (ec.Result.Errored > 0 || len(ec.Result.Errors) > 0) {
		return
	}

	if err := e.store.UpdateLastExecuted(ctx, ruleID, ec.Now); err != nil {
		common.LogError(err, "failed to update last executed", common.Fields{"rule_id": ruleID})
	}
	if decision.TransactionID != "" {
		if err := e.store.ConsumeTransaction(ctx, ruleID, decision.TransactionID); err != nil {
			common.LogError(err, "failed to consume trigger transaction",
				common.Fields{"rule_id": ruleID, "transaction_id": decision.TransactionID})
		}
	}
}
