package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/domain/budgetkey"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store             core.JobMetadataStore // Required: job metadata store
	Queue             core.JobQueue         // Required: job queue
	Logger            *slog.Logger          // Optional: structured logger
	StoreRetries      int                   // Optional: attempts for transient insert failures (default 3)
	StoreRetryBackoff time.Duration         // Optional: initial backoff between attempts (default 100ms)
	NewServerJobID    func() string         // Optional: defaults to a random UUID
	Clock             func() time.Time      // Optional: defaults to time.Now
}

// JobService accepts new jobs and serves their status.
//
// Create writes the RECEIVED record before enqueueing, so a worker never receives an item
// without metadata behind it. When the enqueue fails the record is left for the reaper.
type JobService struct {
	store        core.JobMetadataStore
	queue        core.JobQueue
	logger       *slog.Logger
	retries      uint
	retryBackoff time.Duration
	newID        func() string
	now          func() time.Time
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobMetadataStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}

	svc := &JobService{
		store:        opts.Store,
		queue:        opts.Queue,
		retries:      3,
		retryBackoff: 100 * time.Millisecond,
		newID:        opts.NewServerJobID,
		now:          opts.Clock,
	}
	if opts.StoreRetries > 0 {
		svc.retries = uint(opts.StoreRetries)
	}
	if opts.StoreRetryBackoff > 0 {
		svc.retryBackoff = opts.StoreRetryBackoff
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if opts.Logger != nil {
		svc.logger = opts.Logger.With("component", "job_service")
	}
	return svc, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create validates req, stores a RECEIVED record keyed by its job request id and enqueues it.
// A job request id that was used before yields a key_exists error.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.JobMetadata, error) {
	if req == nil {
		return nil, apperrors.InvalidInput("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if site := req.ReportingSite(); site != "" {
		for i, r := range req.Reports {
			if err := budgetkey.CheckReportingSite(r.ReportingOrigin, site); err != nil {
				return nil, apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "report %d", i)
			}
		}
	}

	now := s.now().UTC()
	meta := model.JobMetadata{
		JobKey:            strings.TrimSpace(req.JobRequestID),
		ServerJobID:       s.newID(),
		Status:            model.JobStatusReceived,
		RequestInfo:       req.RequestInfo,
		RequestReceivedAt: now,
		RequestUpdatedAt:  now,
	}
	meta.RequestInfo.JobRequestID = meta.JobKey

	var attempts int
	err := retry.Do(
		func() error {
			attempts++
			insErr := s.store.Insert(ctx, meta)
			if attempts > 1 && apperrors.IsKeyExists(insErr) {
				return s.confirmInsert(ctx, meta, insErr)
			}
			return insErr
		},
		retry.Context(ctx),
		retry.Attempts(s.retries),
		retry.Delay(s.retryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return apperrors.IsStore(err) || apperrors.IsTimeout(err) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create job %s: %w", meta.JobKey, err)
	}

	if err := s.queue.Send(ctx, meta.JobKey, meta.ServerJobID); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "job stored but not enqueued",
				"job_key", meta.JobKey,
				"server_job_id", meta.ServerJobID,
				"error", err,
			)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "enqueue job %s", meta.JobKey)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job created",
			"job_key", meta.JobKey,
			"server_job_id", meta.ServerJobID,
			"reports", len(meta.RequestInfo.Reports),
		)
	}
	return &meta, nil
}

// confirmInsert resolves a key_exists on a retried insert. The earlier attempt may have
// committed before its error was reported; the record is ours when it carries our server
// job id.
func (s *JobService) confirmInsert(ctx context.Context, meta model.JobMetadata, existsErr error) error {
	stored, err := s.store.Get(ctx, meta.JobKey)
	if err != nil {
		return err
	}
	if stored == nil || stored.ServerJobID != meta.ServerJobID {
		return existsErr
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "earlier insert attempt had committed",
			"job_key", meta.JobKey,
			"server_job_id", meta.ServerJobID,
		)
	}
	return nil
}

// Get returns the job's metadata, or a not_found error.
func (s *JobService) Get(ctx context.Context, jobKey string) (*model.JobMetadata, error) {
	jobKey = strings.TrimSpace(jobKey)
	if jobKey == "" {
		return nil, apperrors.InvalidField("job_request_id", "job_request_id is required")
	}
	meta, err := s.store.Get(ctx, jobKey)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobKey, err)
	}
	if meta == nil {
		return nil, apperrors.NotFoundf("job %s not found", jobKey)
	}
	return meta, nil
}
