// Package ledger provides a Redis-backed idempotency ledger for deployments
// where several pots processes share one set of dedup keys.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/the-pots-must-flow/internal/service"
)

// DefaultTTL bounds how long a dedup key is remembered. It must outlive the
// longest trigger window, which is a calendar month.
const DefaultTTL = 45 * 24 * time.Hour

const (
	defaultPrefix  = "pots:dedup:"
	stateCompleted = "completed"
	reservedPrefix = "reserved:"
)

// releaseScript deletes a key only while it is still a reservation.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// client is the subset of redis.Cmdable the ledger uses.
type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLedger implements service.Ledger on top of Redis SETNX.
type RedisLedger struct {
	client client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

var _ service.Ledger = (*RedisLedger)(nil)

// Option configures a RedisLedger.
type Option func(*RedisLedger)

// WithTTL overrides how long keys are kept.
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLedger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(l *RedisLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// NewRedisLedger creates a ledger from redis options.
func NewRedisLedger(opt *redis.Options, opts ...Option) *RedisLedger {
	return newWithClient(redis.NewClient(opt), opts...)
}

func newWithClient(c client, opts ...Option) *RedisLedger {
	l := &RedisLedger{
		client: c,
		logger: slog.Default().With("component", "redis_ledger"),
		prefix: defaultPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) key(k string) string {
	return l.prefix + k
}

// Seen reports whether the key is reserved or completed.
func (l *RedisLedger) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return n > 0, nil
}

// Reserve claims the key with SETNX. It returns false when the key exists.
func (l *RedisLedger) Reserve(ctx context.Context, key, ruleID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(key), reservedPrefix+ruleID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve dedup key: %w", err)
	}
	if !ok {
		l.logger.Debug("dedup key already held", "key", key, "rule_id", ruleID)
	}
	return ok, nil
}

// Complete marks the key as executed, refreshing its TTL.
func (l *RedisLedger) Complete(ctx context.Context, key string) error {
	if err := l.client.Set(ctx, l.key(key), stateCompleted, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete dedup key: %w", err)
	}
	return nil
}

// Release frees a reservation. Completed keys are left in place.
func (l *RedisLedger) Release(ctx context.Context, key string) error {
	value, err := l.client.Get(ctx, l.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dedup key: %w", err)
	}
	if value == stateCompleted {
		return nil
	}

	if err := l.client.Eval(ctx, releaseScript, []string{l.key(key)}, value).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}
	return nil
}

// Close closes the underlying connection when the ledger owns one.
func (l *RedisLedger) Close() error {
	if c, ok := l.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
