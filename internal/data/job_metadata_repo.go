package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/aggregation-worker/internal/data/pgxutil"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// JobMetadataRepo stores job metadata records in Postgres with optimistic versioning.
type JobMetadataRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobMetadataRepo creates a new JobMetadataRepo.
func NewJobMetadataRepo(db *sql.DB, cfg RepoConfig) *JobMetadataRepo {
	return &JobMetadataRepo{
		DB:           db,
		timeProvider: cfg.timeProvider(),
		logger:       cfg.logger(),
	}
}

const jobMetadataColumns = `
  job_key,
  server_job_id,
  status,
  record_version,
  num_attempts,
  request_info,
  result_info,
  request_received_at,
  request_updated_at,
  request_processing_started_at
`

// Get returns the record for jobKey, or nil when it does not exist.
func (r *JobMetadataRepo) Get(ctx context.Context, jobKey string) (*model.JobMetadata, error) {
	if jobKey == "" {
		return nil, apperrors.InvalidField("job_key", ErrJobKeyRequired.Error())
	}

	var meta *model.JobMetadata
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobMetadataColumns+`
			FROM job_metadata
			WHERE job_key = $1
		`, jobKey)
		if err != nil {
			return err
		}
		defer rows.Close()
		meta, err = collectMetadataFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job metadata %s: %w", jobKey, apperrors.MapDBError(err))
	}
	return meta, nil
}

// Insert stores a new record at version 0. The record version carried by meta is ignored.
func (r *JobMetadataRepo) Insert(ctx context.Context, meta model.JobMetadata) error {
	if err := validateMetadata(meta); err != nil {
		return err
	}

	requestInfo, resultInfo, err := encodeMetadataJSON(meta)
	if err != nil {
		return err
	}

	now := r.timeProvider.Now()
	receivedAt := meta.RequestReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	updatedAt := meta.RequestUpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, execErr := conn.Exec(ctx, `
			INSERT INTO job_metadata (
			  job_key, server_job_id, status, record_version, num_attempts,
			  request_info, result_info, request_received_at, request_updated_at,
			  request_processing_started_at
			) VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9)
		`,
			meta.JobKey,
			meta.ServerJobID,
			string(meta.Status),
			meta.NumAttempts,
			requestInfo,
			resultInfo,
			receivedAt.UTC(),
			updatedAt.UTC(),
			utcOrNil(meta.RequestProcessingStartedAt),
		)
		return execErr
	})
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsKeyExists(mapped) {
			return apperrors.Wrapf(err, apperrors.ErrCodeKeyExists, "job %s already exists", meta.JobKey)
		}
		return fmt.Errorf("insert job metadata %s: %w", meta.JobKey, mapped)
	}
	return nil
}

// Update replaces the stored record when its version equals meta.RecordVersion and returns the
// stored snapshot with the incremented version. A missing record or a version mismatch yields
// a conflict error.
func (r *JobMetadataRepo) Update(ctx context.Context, meta model.JobMetadata) (*model.JobMetadata, error) {
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}

	requestInfo, resultInfo, err := encodeMetadataJSON(meta)
	if err != nil {
		return nil, err
	}

	updatedAt := meta.RequestUpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.timeProvider.Now()
	}

	var stored *model.JobMetadata
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qErr := conn.Query(ctx, `
			UPDATE job_metadata
			SET server_job_id = $3,
			    status = $4,
			    num_attempts = $5,
			    request_info = $6,
			    result_info = $7,
			    request_updated_at = $8,
			    request_processing_started_at = $9,
			    record_version = record_version + 1
			WHERE job_key = $1 AND record_version = $2
			RETURNING `+jobMetadataColumns,
			meta.JobKey,
			meta.RecordVersion,
			meta.ServerJobID,
			string(meta.Status),
			meta.NumAttempts,
			requestInfo,
			resultInfo,
			updatedAt.UTC(),
			utcOrNil(meta.RequestProcessingStartedAt),
		)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		stored, qErr = collectMetadataFromRows(rows)
		return qErr
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.Conflictf("job %s: record missing or version %d is stale", meta.JobKey, meta.RecordVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("update job metadata %s: %w", meta.JobKey, apperrors.MapDBError(err))
	}
	return stored, nil
}

func validateMetadata(meta model.JobMetadata) error {
	if meta.JobKey == "" {
		return apperrors.InvalidField("job_key", ErrJobKeyRequired.Error())
	}
	if meta.ServerJobID == "" {
		return apperrors.InvalidField("server_job_id", ErrServerJobIDRequired.Error())
	}
	if !meta.Status.Valid() {
		return apperrors.InvalidField("status", fmt.Sprintf("invalid job status %q", meta.Status))
	}
	return nil
}

func encodeMetadataJSON(meta model.JobMetadata) ([]byte, []byte, error) {
	requestInfo, err := json.Marshal(meta.RequestInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request info: %w", err)
	}
	if meta.ResultInfo == nil {
		return requestInfo, nil, nil
	}
	resultInfo, err := json.Marshal(meta.ResultInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal result info: %w", err)
	}
	return requestInfo, resultInfo, nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// collectMetadataFromRows reads exactly one metadata row.
func collectMetadataFromRows(rows pgx.Rows) (*model.JobMetadata, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	meta, err := scanMetadataFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return meta, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type metadataRowData struct {
	requestInfo, resultInfo []byte
	status                  string
	startedAt               sql.NullTime
}

func (d *metadataRowData) scanInto(scanner rowScanner, meta *model.JobMetadata) error {
	return scanner.Scan(
		&meta.JobKey,
		&meta.ServerJobID,
		&d.status,
		&meta.RecordVersion,
		&meta.NumAttempts,
		&d.requestInfo,
		&d.resultInfo,
		&meta.RequestReceivedAt,
		&meta.RequestUpdatedAt,
		&d.startedAt,
	)
}

func (d *metadataRowData) apply(meta *model.JobMetadata) error {
	meta.Status = model.JobStatus(d.status)
	if err := json.Unmarshal(d.requestInfo, &meta.RequestInfo); err != nil {
		return fmt.Errorf("decode request info: %w", err)
	}
	if len(d.resultInfo) > 0 {
		var ri model.ResultInfo
		if err := json.Unmarshal(d.resultInfo, &ri); err != nil {
			return fmt.Errorf("decode result info: %w", err)
		}
		meta.ResultInfo = &ri
	}
	meta.RequestReceivedAt = meta.RequestReceivedAt.UTC()
	meta.RequestUpdatedAt = meta.RequestUpdatedAt.UTC()
	if d.startedAt.Valid {
		t := d.startedAt.Time.UTC()
		meta.RequestProcessingStartedAt = &t
	}
	return nil
}

func scanMetadataFromRow(scanner rowScanner) (*model.JobMetadata, error) {
	meta := &model.JobMetadata{}
	var data metadataRowData
	if err := data.scanInto(scanner, meta); err != nil {
		return nil, err
	}
	if err := data.apply(meta); err != nil {
		return nil, err
	}
	return meta, nil
}
