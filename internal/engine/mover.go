package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
)

// DedupKey identifies one transfer of one rule within one trigger window.
// It is stable across retries of the same evaluation.
func DedupKey(ruleID string, from, to model.SourceRef, window string) string {
	sum := sha256.Sum256([]byte(ruleID + "|" + from.Key() + "|" + to.Key() + "|" + window))
	return hex.EncodeToString(sum[:])
}

// move is one intended transfer.
type move struct {
	From       model.SourceRef
	To         model.SourceRef
	Stage      string
	Provenance model.Provenance
	Amount     money.Money
}

func (m move) outcome(status model.OutcomeStatus, key, reason string) model.TransferOutcome {
	return model.TransferOutcome{
		From:       m.From,
		To:         m.To,
		Status:     status,
		Reason:     reason,
		DedupKey:   key,
		Stage:      m.Stage,
		Provenance: m.Provenance,
		Amount:     m.Amount,
	}
}

// mover carries out, or pretends to carry out, a single transfer.
type mover interface {
	Move(ctx context.Context, ec *ExecContext, m move) model.TransferOutcome
}

func (e *Engine) moverFor(m mode) mover {
	if m.dryRun {
		return &planner{ledger: e.ledger}
	}
	return &executor{ledger: e.ledger, bank: e.bank}
}

// executor performs real transfers guarded by the idempotency ledger.
type executor struct {
	ledger service.Ledger
	bank   service.Bank
}

func (x *executor) Move(ctx context.Context, ec *ExecContext, m move) model.TransferOutcome {
	key := DedupKey(ec.Rule.ID, m.From, m.To, ec.Window)

	reserved, err := x.ledger.Reserve(ctx, key, ec.Rule.ID)
	if err != nil {
		return m.outcome(model.OutcomeErrored, key, fmt.Sprintf("idempotency ledger: %v", err))
	}
	if !reserved {
		ec.Logger.Info("transfer already executed in this window",
			"from", m.From.Key(), "to", m.To.Key(), "window", ec.Window)
		return m.outcome(model.OutcomeDuplicate, key, common.ErrDuplicateExecution.Error())
	}

	err = x.bank.Transfer(ctx, service.TransferRequest{
		From:     m.From,
		To:       m.To,
		Amount:   m.Amount,
		DedupKey: key,
	})
	if err != nil {
		if releaseErr := x.ledger.Release(ctx, key); releaseErr != nil {
			ec.Logger.Error("failed to release dedup key", "key", key, "error", releaseErr)
		}
		ec.Logger.Warn("transfer failed", "from", m.From.Key(), "to", m.To.Key(), "amount", m.Amount.String(), "error", err)
		return m.outcome(model.OutcomeErrored, key, err.Error())
	}

	if err := x.ledger.Complete(ctx, key); err != nil {
		ec.Logger.Error("failed to complete dedup key", "key", key, "error", err)
	}
	ec.Logger.Info("transfer succeeded", "from", m.From.Key(), "to", m.To.Key(), "amount", m.Amount.String())
	return m.outcome(model.OutcomeSucceeded, key, "")
}

// planner reports intended transfers without moving money. It only reads
// the ledger, so a planned transfer already made in this window shows as a
// duplicate.
type planner struct {
	ledger service.Ledger
}

func (p *planner) Move(ctx context.Context, ec *ExecContext, m move) model.TransferOutcome {
	key := DedupKey(ec.Rule.ID, m.From, m.To, ec.Window)

	seen, err := p.ledger.Seen(ctx, key)
	if err != nil {
		return m.outcome(model.OutcomeErrored, key, fmt.Sprintf("idempotency ledger: %v", err))
	}
	if seen {
		return m.outcome(model.OutcomeDuplicate, key, common.ErrDuplicateExecution.Error())
	}
	return m.outcome(model.OutcomePlanned, key, "")
}
