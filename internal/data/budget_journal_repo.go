package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/target/aggregation-worker/internal/data/pgxutil"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// BudgetJournalRepo stores per-job budget consumption progress in Postgres.
type BudgetJournalRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewBudgetJournalRepo creates a new BudgetJournalRepo.
func NewBudgetJournalRepo(db *sql.DB, cfg RepoConfig) *BudgetJournalRepo {
	return &BudgetJournalRepo{
		DB:           db,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.logger(),
	}
}

// Begin writes an INTENT entry for jobKey unless one already exists.
func (r *BudgetJournalRepo) Begin(ctx context.Context, jobKey string) (*model.BudgetJournalEntry, bool, error) {
	if jobKey == "" {
		return nil, false, apperrors.InvalidField("job_key", ErrJobKeyRequired.Error())
	}

	now := r.timeProvider.Now().UTC()
	var (
		entry   *model.BudgetJournalEntry
		created bool
	)
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var inserted string
		insErr := conn.QueryRow(ctx, `
			INSERT INTO budget_consumption_journal (job_key, state, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (job_key) DO NOTHING
			RETURNING job_key
		`, jobKey, string(model.JournalIntent), now).Scan(&inserted)
		switch {
		case insErr == nil:
			created = true
			entry = &model.BudgetJournalEntry{JobKey: jobKey, State: model.JournalIntent, UpdatedAt: now}
			return nil
		case !errors.Is(insErr, pgx.ErrNoRows):
			return insErr
		}

		var selErr error
		entry, selErr = r.get(ctx, conn, jobKey)
		return selErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("begin budget journal for %s: %w", jobKey, apperrors.MapDBError(err))
	}
	return entry, created, nil
}

// Record stores the outcomes for a job whose INTENT entry exists.
func (r *BudgetJournalRepo) Record(ctx context.Context, jobKey string, outcomes model.ConsumptionResult) error {
	if jobKey == "" {
		return apperrors.InvalidField("job_key", ErrJobKeyRequired.Error())
	}

	payload, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	var affected int64
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, execErr := conn.Exec(ctx, `
			UPDATE budget_consumption_journal
			SET state = $2, outcomes = $3, updated_at = $4
			WHERE job_key = $1 AND state = $5
		`, jobKey, string(model.JournalRecorded), payload, r.timeProvider.Now().UTC(), string(model.JournalIntent))
		affected = tag.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("record budget journal for %s: %w", jobKey, apperrors.MapDBError(err))
	}
	if affected == 0 {
		return apperrors.Wrapf(ErrJournalNotStarted, apperrors.ErrCodeConflict, "record budget journal for %s", jobKey)
	}
	return nil
}

// Abandon deletes jobKey's entry if it is still an INTENT.
func (r *BudgetJournalRepo) Abandon(ctx context.Context, jobKey string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, execErr := conn.Exec(ctx, `
			DELETE FROM budget_consumption_journal
			WHERE job_key = $1 AND state = $2
		`, jobKey, string(model.JournalIntent))
		return execErr
	})
	if err != nil {
		return fmt.Errorf("abandon budget journal for %s: %w", jobKey, apperrors.MapDBError(err))
	}
	return nil
}

// Get returns the entry for jobKey, or nil when none exists.
func (r *BudgetJournalRepo) Get(ctx context.Context, jobKey string) (*model.BudgetJournalEntry, error) {
	var entry *model.BudgetJournalEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var getErr error
		entry, getErr = r.get(ctx, conn, jobKey)
		return getErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget journal for %s: %w", jobKey, apperrors.MapDBError(err))
	}
	return entry, nil
}

func (r *BudgetJournalRepo) get(ctx context.Context, conn *pgx.Conn, jobKey string) (*model.BudgetJournalEntry, error) {
	var (
		entry    model.BudgetJournalEntry
		state    string
		outcomes []byte
	)
	err := conn.QueryRow(ctx, `
		SELECT job_key, state, outcomes, updated_at
		FROM budget_consumption_journal
		WHERE job_key = $1
	`, jobKey).Scan(&entry.JobKey, &state, &outcomes, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.State = model.JournalState(state)
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	if len(outcomes) > 0 {
		if decErr := json.Unmarshal(outcomes, &entry.Outcomes); decErr != nil {
			return nil, fmt.Errorf("decode outcomes: %w", decErr)
		}
	}
	return &entry, nil
}
