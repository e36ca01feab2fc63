package model

import (
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// ExecutionStatus summarises a whole rule execution.
type ExecutionStatus string

// Execution statuses.
const (
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusPartial   ExecutionStatus = "partial"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped"
	StatusRejected  ExecutionStatus = "rejected"
	StatusNotFired  ExecutionStatus = "not_fired"
)

// OutcomeStatus describes a single transfer attempt.
type OutcomeStatus string

// Transfer outcome statuses.
const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeErrored   OutcomeStatus = "errored"
	OutcomeDuplicate OutcomeStatus = "duplicate"
	OutcomePlanned   OutcomeStatus = "planned"
)

// TransferOutcome is the per-source (or per-destination) record of an execution.
type TransferOutcome struct {
	From       SourceRef     `json:"from"`
	To         SourceRef     `json:"to"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	DedupKey   string        `json:"dedup_key,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	Provenance Provenance    `json:"provenance,omitempty"`
	Amount     money.Money   `json:"amount"`
}

// ExecutionResult aggregates every transfer attempted by one rule execution.
type ExecutionResult struct {
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	BalanceDeltas map[string]money.Money `json:"balance_deltas,omitempty"`
	ID            string                 `json:"id"`
	RuleID        string                 `json:"rule_id"`
	UserID        string                 `json:"user_id"`
	RuleType      RuleType               `json:"rule_type"`
	TriggerReason string                 `json:"trigger_reason,omitempty"`
	Status        ExecutionStatus        `json:"status"`
	Errors        []string               `json:"errors,omitempty"`
	Outcomes      []TransferOutcome      `json:"outcomes,omitempty"`
	TotalMoved    money.Money            `json:"total_moved"`
	Executed      int                    `json:"executed"`
	Succeeded     int                    `json:"succeeded"`
	Errored       int                    `json:"errored"`
	Skipped       int                    `json:"skipped"`
	DryRun        bool                   `json:"dry_run"`
	Fired         bool                   `json:"fired"`
}

// Record appends an outcome and updates the counters.
// Duplicates and dry-run plans count as successful no-ops.
func (r *ExecutionResult) Record(o TransferOutcome) {
	r.Outcomes = append(r.Outcomes, o)

	switch o.Status {
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeErrored:
		r.Executed++
		r.Errored++
		r.Errors = append(r.Errors, o.From.String()+": "+o.Reason)
	case OutcomeDuplicate:
		r.Executed++
		r.Succeeded++
	case OutcomeSucceeded, OutcomePlanned:
		r.Executed++
		r.Succeeded++
		r.TotalMoved = r.TotalMoved.Add(o.Amount)
		if r.BalanceDeltas == nil {
			r.BalanceDeltas = make(map[string]money.Money)
		}
		r.BalanceDeltas[o.From.Key()] = r.BalanceDeltas[o.From.Key()].Sub(o.Amount)
		r.BalanceDeltas[o.To.Key()] = r.BalanceDeltas[o.To.Key()].Add(o.Amount)
	}
}

// Fail records an execution-level error that is not tied to one transfer.
func (r *ExecutionResult) Fail(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// Finish stamps the end time and derives the overall status.
func (r *ExecutionResult) Finish(now time.Time) {
	r.FinishedAt = now
	if r.Status == StatusRejected || r.Status == StatusNotFired {
		return
	}
	switch {
	case r.Errored == 0 && r.Succeeded == 0 && len(r.Errors) > 0:
		r.Status = StatusFailed
	case r.Errored == 0 && r.Succeeded == 0:
		r.Status = StatusSkipped
	case r.Errored == 0:
		r.Status = StatusSucceeded
	case r.Succeeded == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}

// AllSucceeded reports whether nothing went wrong.
func (r *ExecutionResult) AllSucceeded() bool {
	return r.Errored == 0 && len(r.Errors) == 0 && r.Status != StatusRejected
}
