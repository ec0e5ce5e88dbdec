package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/aggregation-worker/internal/data/pgxutil"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// BudgetLedgerRepo keeps per-key privacy budget consumption in Postgres. Every key is charged
// with a single conditional upsert, so concurrent workers never push a key past its limit.
type BudgetLedgerRepo struct {
	DB           *sql.DB
	limit        int
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewBudgetLedgerRepo creates a ledger that allows limit consumptions per key.
func NewBudgetLedgerRepo(db *sql.DB, limit int, cfg RepoConfig) *BudgetLedgerRepo {
	return &BudgetLedgerRepo{
		DB:           db,
		limit:        limit,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.logger(),
	}
}

// Limit returns the configured per-key limit.
func (r *BudgetLedgerRepo) Limit() int { return r.limit }

// GetBudget returns the remaining budget for each key. Keys with no row have the full limit.
func (r *BudgetLedgerRepo) GetBudget(
	ctx context.Context,
	keys []model.PrivacyBudgetKey,
) (map[model.PrivacyBudgetKey]int, error) {
	keys = model.UniqueKeys(keys)
	out := make(map[model.PrivacyBudgetKey]int, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	fingerprints := make([]string, len(keys))
	buckets := make([]time.Time, len(keys))
	for i, k := range keys {
		fingerprints[i] = k.Fingerprint
		buckets[i] = k.TimeBucket
	}

	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT k.ord, COALESCE(l.consumed, 0)
			FROM unnest($1::text[], $2::timestamptz[]) WITH ORDINALITY AS k(fingerprint, time_bucket, ord)
			LEFT JOIN privacy_budget_ledger l
			  ON l.fingerprint = k.fingerprint AND l.time_bucket = k.time_bucket
		`, fingerprints, buckets)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ord      int64
				consumed int
			)
			if scanErr := rows.Scan(&ord, &consumed); scanErr != nil {
				return scanErr
			}
			out[keys[ord-1]] = max(0, r.limit-consumed)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get budget for %d keys: %w", len(keys), apperrors.MapDBError(err))
	}
	return out, nil
}

const consumeBudgetSQL = `
INSERT INTO privacy_budget_ledger AS l (fingerprint, time_bucket, consumed, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (fingerprint, time_bucket) DO UPDATE
SET consumed = l.consumed + 1,
    updated_at = EXCLUDED.updated_at
WHERE l.consumed < $4
RETURNING l.consumed
`

// ConsumeBudget charges one unit to every key that still has budget. The statements are sent
// as one batch, which Postgres runs as a single implicit transaction: on error nothing was
// charged. Keys are locked in (time bucket, fingerprint) order so overlapping batches from
// different workers cannot deadlock.
func (r *BudgetLedgerRepo) ConsumeBudget(
	ctx context.Context,
	keys []model.PrivacyBudgetKey,
) (model.ConsumptionResult, error) {
	keys = model.UniqueKeys(keys)
	model.SortKeys(keys)
	result := make(model.ConsumptionResult, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	if r.limit <= 0 {
		for _, k := range keys {
			result[k] = model.BudgetExhausted
		}
		return result, nil
	}

	now := r.timeProvider.Now().UTC()
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		batch := &pgx.Batch{}
		for _, k := range keys {
			batch.Queue(consumeBudgetSQL, k.Fingerprint, k.TimeBucket, now, r.limit)
		}

		br := conn.SendBatch(ctx, batch)
		for _, k := range keys {
			var consumed int
			scanErr := br.QueryRow().Scan(&consumed)
			switch {
			case errors.Is(scanErr, pgx.ErrNoRows):
				result[k] = model.BudgetExhausted
			case scanErr != nil:
				return errors.Join(fmt.Errorf("consume %s: %w", k, scanErr), br.Close())
			default:
				result[k] = model.BudgetConsumed
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("consume budget for %d keys: %w", len(keys), apperrors.MapDBError(err))
	}

	r.logger.DebugContext(ctx, "budget consumed",
		"keys", len(keys),
		"consumed", len(result.Consumed()),
		"exhausted", len(result.Exhausted()),
	)
	return result, nil
}

// ConsumesAtomically reports true: a failed batch is rolled back as a whole.
func (r *BudgetLedgerRepo) ConsumesAtomically() bool { return true }
