// Package scheduler runs due rules on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

// DefaultSchedule checks rules every five minutes.
const DefaultSchedule = "*/5 * * * *"

// DueRunner executes the rules of a user whose trigger fires.
type DueRunner interface {
	RunDue(ctx context.Context, userID string) ([]*model.ExecutionResult, error)
}

// Watcher periodically runs due rules for a set of users.
type Watcher struct {
	runner   DueRunner
	cron     *cron.Cron
	logger   *slog.Logger
	onResult func(*model.ExecutionResult)
	users    []string
	schedule string
	mu       sync.Mutex
	ticks    int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSchedule sets the cron expression (five fields or a descriptor such as "@hourly").
func WithSchedule(expr string) Option {
	return func(w *Watcher) { w.schedule = expr }
}

// WithResultHandler registers a callback invoked for every result that fired.
func WithResultHandler(fn func(*model.ExecutionResult)) Option {
	return func(w *Watcher) { w.onResult = fn }
}

// New creates a watcher for the given users. An empty user list means all users.
func New(runner DueRunner, users []string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		runner:   runner,
		users:    users,
		schedule: DefaultSchedule,
		logger:   slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if len(w.users) == 0 {
		w.users = []string{""}
	}
	if _, err := cron.ParseStandard(w.schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", w.schedule, err)
	}
	return w, nil
}

// Run ticks on the schedule until ctx is cancelled. A tick still running
// when the next one is due is skipped.
func (w *Watcher) Run(ctx context.Context) error {
	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := w.cron.AddFunc(w.schedule, func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule watcher: %w", err)
	}

	w.logger.Info("Watcher started", "schedule", w.schedule, "users", len(w.users))
	w.cron.Start()

	<-ctx.Done()
	stopped := w.cron.Stop()
	<-stopped.Done()
	w.logger.Info("Watcher stopped", "ticks", w.Ticks())
	return nil
}

// Tick runs due rules once for every user. One user failing never stops
// the others.
func (w *Watcher) Tick(ctx context.Context) {
	w.mu.Lock()
	w.ticks++
	w.mu.Unlock()

	for _, user := range w.users {
		if ctx.Err() != nil {
			return
		}
		results, err := w.runner.RunDue(ctx, user)
		if err != nil {
			w.logger.Error("Failed to run due rules", "user_id", user, "error", err)
			continue
		}
		for _, r := range results {
			if !r.Fired {
				continue
			}
			w.logger.Info("Rule executed",
				"rule_id", r.RuleID,
				"status", r.Status,
				"moved", r.TotalMoved.String())
			if w.onResult != nil {
				w.onResult(r)
			}
		}
	}
}

// Ticks returns how many ticks have run.
func (w *Watcher) Ticks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}
