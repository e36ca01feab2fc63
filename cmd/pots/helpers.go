package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-pots-must-flow/internal/config"
	"github.com/Veraticus/the-pots-must-flow/internal/engine"
	"github.com/Veraticus/the-pots-must-flow/internal/ledger"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/monzo"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
	"github.com/Veraticus/the-pots-must-flow/internal/storage"
)

// initStorage opens the database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(config.DatabasePath())
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initBank creates the Monzo client from configuration.
func initBank(ctx context.Context) (*monzo.Client, error) {
	client, err := monzo.NewClient(ctx, config.LoadMonzoConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create monzo client: %w", err)
	}
	return client, nil
}

// initLedger returns the configured idempotency ledger. The SQLite store
// is its own ledger unless Redis is configured.
func initLedger(store *storage.SQLiteStorage) (service.Ledger, io.Closer, error) {
	cfg, err := config.LoadLedgerConfig()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Backend != config.LedgerRedis {
		return store, nopCloser{}, nil
	}

	var opts []ledger.Option
	if cfg.TTL > 0 {
		opts = append(opts, ledger.WithTTL(cfg.TTL))
	}
	if cfg.RedisPrefix != "" {
		opts = append(opts, ledger.WithPrefix(cfg.RedisPrefix))
	}
	l := ledger.NewRedisLedger(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, opts...)
	return l, l, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// app bundles everything a command that executes rules needs.
type app struct {
	store   *storage.SQLiteStorage
	bank    *monzo.Client
	engine  *engine.Engine
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func initApp(ctx context.Context) (*app, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, closers: []io.Closer{store}}

	bank, err := initBank(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.bank = bank

	l, closer, err := initLedger(store)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)

	cfg := engine.DefaultConfig()
	if v := viper.GetString("engine.min_transfer"); v != "" {
		floor, err := money.ParsePounds(v)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid engine.min_transfer: %w", err)
		}
		cfg.MinTransfer = floor
	}
	if n := viper.GetInt("engine.refresh_concurrency"); n > 0 {
		cfg.RefreshConcurrency = n
	}

	a.engine = engine.NewWithConfig(store, l, bank, cfg)
	return a, nil
}
