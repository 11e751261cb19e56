package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"qazna.org/authcore/internal/auth"
	"qazna.org/authcore/internal/config"
	"qazna.org/authcore/internal/httpapi"
	"qazna.org/authcore/internal/store/pg"
)

// openPostgres connects and waits until the database answers a ping.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pg.Store, error) {
	if cfg.DSN == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database DSN is required (--dsn or AUTHCORE_PG_DSN)")
	}
	store, err := pg.Open(cfg.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "open database").Wrap(err)
	}
	if err := waitForDatabase(ctx, store.Ping, cfg.WaitTimeout, logger); err != nil {
		_ = store.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "wait for database").Wrap(err)
	}
	return store, nil
}

// waitForDatabase retries ping with exponential backoff until it succeeds or
// timeout elapses.
func waitForDatabase(ctx context.Context, ping func(context.Context) error, timeout time.Duration, logger *slog.Logger) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithCappedDuration(2*time.Second, backoff)
	backoff = retry.WithMaxDuration(timeout, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := ping(ctx); err != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// serviceStore selects Postgres when a DSN is configured and an in-memory store
// otherwise. cleanup is never nil.
func serviceStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (auth.Store, httpapi.ReadinessChecker, func(), error) {
	if cfg.DSN == "" {
		logger.Warn("no database configured; using in-memory store, data is lost on exit")
		return auth.NewMemoryStore(nil), httpapi.ReadyProbe{}, func() {}, nil
	}
	store, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("error closing database", "error", err)
		}
	}
	return store, httpapi.ReadyProbe{DB: store.DB()}, cleanup, nil
}
