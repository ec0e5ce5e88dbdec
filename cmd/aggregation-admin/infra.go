package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/aggregation-worker/config"
	"github.com/target/aggregation-worker/internal/bootstrap"
	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/data"
)

const defaultCommandTimeout = 30 * time.Second

// withDatabase runs f with a connected database under a signal-aware timeout.
func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

// openLedger connects the ledger selected by BUDGET_BACKEND. The returned close function is
// always safe to call.
func openLedger(ctx context.Context, cmdCtx *commandContext) (core.BudgetLedger, func() error, error) {
	cfg := cmdCtx.Config
	noop := func() error { return nil }

	switch cfg.Budget.Backend {
	case config.BackendPostgres:
		db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: cmdCtx.Logger})
		if err != nil {
			return nil, noop, fmt.Errorf("connect db: %w", err)
		}
		return data.NewBudgetLedgerRepo(db, cfg.Budget.Limit, data.RepoConfig{Logger: cmdCtx.Logger}), db.Close, nil
	case config.BackendRedis:
		client, err := connectRedis(ctx, cmdCtx, cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		return data.NewRedisBudgetLedger(client, cfg.Budget.Limit, cfg.Redis.KeyPrefix), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("budget inspection needs a persistent ledger, BUDGET_BACKEND=%s", cfg.Budget.Backend)
	}
}

//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectRedis(ctx context.Context, cmdCtx *commandContext, cfg config.RedisConfig) (redis.UniversalClient, error) {
	client, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{RedisConfig: cfg, Logger: cmdCtx.Logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
