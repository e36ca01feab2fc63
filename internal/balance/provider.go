// Package balance resolves pot and account balances, preferring the bank's
// live figure and falling back to the last cached value.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
	"golang.org/x/sync/errgroup"
)

// LiveSource reads balances straight from the bank.
type LiveSource interface {
	AccountBalance(ctx context.Context, accountID string) (money.Money, error)
	PotBalance(ctx context.Context, potID string) (money.Money, error)
}

// RefreshReport lists which entities a bulk refresh reached.
type RefreshReport struct {
	Failed    map[string]error
	Refreshed []model.SourceRef
}

// OK reports whether every entity refreshed.
func (r RefreshReport) OK() bool { return len(r.Failed) == 0 }

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithConcurrency bounds parallel live calls during Refresh.
func WithConcurrency(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// Provider implements live-first balance lookup with a cache fallback.
type Provider struct {
	live        LiveSource
	cache       service.BalanceCache
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// NewProvider creates a balance provider.
func NewProvider(live LiveSource, cache service.BalanceCache, opts ...Option) *Provider {
	p := &Provider{
		live:        live,
		cache:       cache,
		logger:      slog.Default().With("component", "balance"),
		now:         time.Now,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Balance returns the live balance when the bank answers, otherwise the
// most recent cached balance marked stale. With neither it returns
// common.ErrBalanceUnavailable.
func (p *Provider) Balance(ctx context.Context, ref model.SourceRef) (model.BalanceSnapshot, error) {
	snap, liveErr := p.fetchLive(ctx, ref)
	if liveErr == nil {
		return snap, nil
	}

	p.logger.Warn("Live balance failed, trying cache", "ref", ref.Key(), "error", liveErr)

	cached, err := p.cache.GetCachedBalance(ctx, ref)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return model.BalanceSnapshot{}, fmt.Errorf("%w: %s: %w", common.ErrBalanceUnavailable, ref, liveErr)
		}
		return model.BalanceSnapshot{}, fmt.Errorf("%w: %s: cache: %w", common.ErrBalanceUnavailable, ref, err)
	}

	stale := *cached
	stale.Ref = ref
	stale.Provenance = model.ProvenanceStale
	return stale, nil
}

// Refresh re-reads every entity from the bank and updates the cache.
// Failures are isolated: one entity failing never stops the others.
func (p *Provider) Refresh(ctx context.Context, refs ...model.SourceRef) RefreshReport {
	return p.RefreshEach(ctx, refs, nil)
}

// RefreshEach is Refresh with a callback run as each entity settles.
// The callback is never called concurrently.
func (p *Provider) RefreshEach(ctx context.Context, refs []model.SourceRef, done func(model.SourceRef, model.BalanceSnapshot, error)) RefreshReport {
	report := RefreshReport{Failed: make(map[string]error)}
	var mu sync.Mutex

	seen := make(map[string]bool, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, ref := range refs {
		if seen[ref.Key()] {
			continue
		}
		seen[ref.Key()] = true

		g.Go(func() error {
			snap, err := p.fetchLive(gctx, ref)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[ref.Key()] = err
			} else {
				report.Refreshed = append(report.Refreshed, ref)
			}
			if done != nil {
				done(ref, snap, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(report.Failed) > 0 {
		p.logger.Warn("Balance refresh incomplete",
			"refreshed", len(report.Refreshed),
			"failed", len(report.Failed))
	}
	return report
}

// Session scopes balance reads to a single rule execution. A live balance
// read through the session is reused until the session is dropped, so an
// execution asks the bank for each entity at most once.
type Session struct {
	provider *Provider
	live     map[string]model.BalanceSnapshot
	mu       sync.Mutex
}

// Session starts an empty per-execution view.
func (p *Provider) Session() *Session {
	return &Session{provider: p, live: make(map[string]model.BalanceSnapshot)}
}

// Refresh reads the entities the session has not seen live yet.
func (s *Session) Refresh(ctx context.Context, refs ...model.SourceRef) RefreshReport {
	pending := make([]model.SourceRef, 0, len(refs))
	s.mu.Lock()
	for _, ref := range refs {
		if _, ok := s.live[ref.Key()]; !ok {
			pending = append(pending, ref)
		}
	}
	s.mu.Unlock()

	return s.provider.RefreshEach(ctx, pending, func(ref model.SourceRef, snap model.BalanceSnapshot, err error) {
		if err == nil {
			s.remember(ref, snap)
		}
	})
}

// Balance returns the balance read live earlier in the session, or asks
// the provider. Stale fallbacks are not remembered.
func (s *Session) Balance(ctx context.Context, ref model.SourceRef) (model.BalanceSnapshot, error) {
	s.mu.Lock()
	snap, ok := s.live[ref.Key()]
	s.mu.Unlock()
	if ok {
		return snap, nil
	}

	snap, err := s.provider.Balance(ctx, ref)
	if err == nil && snap.Provenance == model.ProvenanceLive {
		s.remember(ref, snap)
	}
	return snap, err
}

func (s *Session) remember(ref model.SourceRef, snap model.BalanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[ref.Key()] = snap
}

func (p *Provider) fetchLive(ctx context.Context, ref model.SourceRef) (model.BalanceSnapshot, error) {
	var (
		amount money.Money
		err    error
	)
	switch {
	case ref.IsMainAccount():
		amount, err = p.live.AccountBalance(ctx, ref.ID)
	case ref.IsPot():
		amount, err = p.live.PotBalance(ctx, ref.ID)
	default:
		return model.BalanceSnapshot{}, fmt.Errorf("%w: unresolved source", model.ErrInvalidSourceRef)
	}
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	snap := model.BalanceSnapshot{
		Ref:        ref,
		Amount:     amount,
		Provenance: model.ProvenanceLive,
		FetchedAt:  p.now(),
	}
	if err := p.cache.PutCachedBalance(ctx, snap); err != nil {
		p.logger.Warn("Failed to cache balance", "ref", ref.Key(), "error", err)
	}
	return snap, nil
}
