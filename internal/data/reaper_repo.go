package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/data/pgxutil"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_lock(major, minor) for proper namespacing.
const (
	advisoryLockReaperMajor = 1000
	advisoryLockReaperMinor = 1
)

// ReaperRepo implements core.ReaperRepository on Postgres.
type ReaperRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewReaperRepo creates a new ReaperRepo.
func NewReaperRepo(db *sql.DB, cfg RepoConfig) *ReaperRepo {
	return &ReaperRepo{DB: db, logger: cfg.logger()}
}

// TryWithReaperLock runs fn while holding a session advisory lock. It returns false without
// running fn when another reaper holds the lock.
func (r *ReaperRepo) TryWithReaperLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("get conn from pool: %w", apperrors.MapDBError(err))
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var locked bool
	if err := conn.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperMinor,
	).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", apperrors.MapDBError(err))
	}
	if !locked {
		return false, nil
	}
	defer func() {
		if _, uerr := conn.ExecContext(context.Background(),
			"SELECT pg_advisory_unlock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperMinor,
		); uerr != nil {
			r.logger.Warn("release reaper lock failed", "error", uerr)
		}
	}()

	return true, fn(ctx)
}

// ListOrphanedJobs returns RECEIVED jobs older than olderThan that have no queue item left,
// oldest first.
func (r *ReaperRepo) ListOrphanedJobs(ctx context.Context, olderThan time.Time, limit int) ([]model.JobMetadata, error) {
	if limit <= 0 {
		return nil, apperrors.InvalidField("limit", "limit must be greater than zero")
	}

	var jobs []model.JobMetadata
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobMetadataColumns+`
			FROM job_metadata m
			WHERE m.status = $1
			  AND m.request_received_at < $2
			  AND NOT EXISTS (SELECT 1 FROM job_queue q WHERE q.job_key = m.job_key)
			ORDER BY m.request_received_at
			LIMIT $3
		`, string(model.JobStatusReceived), olderThan.UTC(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			meta, scanErr := scanMetadataFromRow(rows)
			if scanErr != nil {
				return scanErr
			}
			jobs = append(jobs, *meta)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list orphaned jobs: %w", apperrors.MapDBError(err))
	}
	return jobs, nil
}

// DeleteTerminalJobs deletes up to BatchSize jobs in a terminal status whose last update is
// older than OlderThan, together with their budget journal entries.
func (r *ReaperRepo) DeleteTerminalJobs(ctx context.Context, params core.DeleteTerminalJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, apperrors.InvalidField("status", fmt.Sprintf("status %q is not terminal", params.Status))
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var deleted int64
	err := pgxutil.WithRetryableTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				WITH doomed AS (
					SELECT job_key
					FROM job_metadata
					WHERE status = $1
					  AND request_updated_at < $2
					ORDER BY request_updated_at
					LIMIT $3
					FOR UPDATE SKIP LOCKED
				), journal AS (
					DELETE FROM budget_consumption_journal
					WHERE job_key IN (SELECT job_key FROM doomed)
				)
				DELETE FROM job_metadata
				WHERE job_key IN (SELECT job_key FROM doomed)
			`, string(params.Status), params.OlderThan.UTC(), params.BatchSize)
			if err != nil {
				return err
			}
			deleted = tag.RowsAffected()
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s jobs: %w", params.Status, apperrors.MapDBError(err))
	}
	return deleted, nil
}

var _ core.ReaperRepository = (*ReaperRepo)(nil)
