package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/aggregation-worker/config"
	"github.com/target/aggregation-worker/internal/core"
	domainjob "github.com/target/aggregation-worker/internal/domain/job"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
	obserrors "github.com/target/aggregation-worker/internal/observability/errors"
	"github.com/target/aggregation-worker/internal/observability/metrics"
	"github.com/target/aggregation-worker/internal/observability/notify"
	"github.com/target/aggregation-worker/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo     core.ReaperRepository // Required: reaper repository
	Store    core.JobMetadataStore // Required: versioned writes for failing orphaned jobs
	Config   config.ReaperConfig   // Required: reaper configuration
	Logger   *slog.Logger          // Optional: structured logger
	Metrics  statsd.Sink           // Optional: metrics sink (StatsD-compatible)
	Notifier JobFailureNotifier    // Optional: told about every orphan failed by the reaper
	Clock    func() time.Time      // Optional: defaults to time.Now
}

// JobFailureNotifier receives failure notifications for jobs the reaper fails.
type JobFailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// ReaperService provides job cleanup operations.
//
// Each cleanup run, under a cluster-wide lock:
// - Fails RECEIVED jobs whose queue item is gone, so callers polling them see a terminal status.
// - Deletes FINISHED and FAILED jobs past their retention, with their budget journal entries.
type ReaperService struct {
	repo     core.ReaperRepository
	store    core.JobMetadataStore
	config   config.ReaperConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier JobFailureNotifier
	now      func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("JobMetadataStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"orphan_max_age", opts.Config.OrphanMaxAge,
			"finished_max_age", opts.Config.FinishedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
		)
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &ReaperService{
		repo:     opts.Repo,
		store:    opts.Store,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		now:      now,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run cleanup immediately after jitter
	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				if isContextCancellation(err) {
					continue
				}
				// Continue running despite errors
			}
		}
	}
}

// RunOnce performs a single cleanup pass. It returns false when another instance held the
// reaper lock and nothing was done.
func (s *ReaperService) RunOnce(ctx context.Context) (bool, error) {
	var cleanupErr error
	ran, err := s.repo.TryWithReaperLock(ctx, func(ctx context.Context) error {
		cleanupErr = s.cleanup(ctx)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reaper lock: %w", err)
	}
	if !ran && s.logger != nil {
		s.logger.DebugContext(ctx, "another reaper holds the lock, skipping cleanup")
	}
	return ran, cleanupErr
}

// runCleanup performs all cleanup operations.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	_, err := s.RunOnce(ctx)
	return err
}

func (s *ReaperService) cleanup(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.failOrphanedJobs,
			label:     "fail orphaned jobs",
			count:     &metricsData.OrphanedCount,
			metricErr: &metricsData.OrphanedErr,
		},
		{
			fn:        s.deleteOldFinishedJobs,
			label:     "delete old finished jobs",
			count:     &metricsData.FinishedCount,
			metricErr: &metricsData.FinishedErr,
		},
		{
			fn:        s.deleteOldFailedJobs,
			label:     "delete old failed jobs",
			count:     &metricsData.FailedCount,
			metricErr: &metricsData.FailedErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// failOrphanedJobs fails RECEIVED jobs older than the orphan max age whose queue item no longer
// exists. Each write is versioned; a job a worker picked up in the meantime is left alone.
func (s *ReaperService) failOrphanedJobs(ctx context.Context) (int64, error) {
	olderThan := s.now().Add(-s.config.OrphanMaxAge)
	jobs, err := s.repo.ListOrphanedJobs(ctx, olderThan, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	var failed int64
	for _, meta := range jobs {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		stored, err := s.failOrphan(ctx, meta)
		switch {
		case apperrors.IsConflict(err):
			continue
		case err != nil:
			return failed, err
		}
		failed++
		if s.notifier != nil {
			s.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
				JobKey:      stored.JobKey,
				ServerJobID: stored.ServerJobID,
				ReturnCode:  string(model.ReturnCodeInternalError),
				Message:     stored.ResultInfo.ReturnMessage,
				NumAttempts: stored.NumAttempts,
				OccurredAt:  stored.RequestUpdatedAt,
				Metadata:    map[string]string{"source": "reaper"},
			})
		}
	}

	if failed > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed orphaned jobs",
			"count", failed,
			"max_age", s.config.OrphanMaxAge,
		)
	}

	return failed, nil
}

func (s *ReaperService) failOrphan(ctx context.Context, meta model.JobMetadata) (*model.JobMetadata, error) {
	failed, err := domainjob.Fail(meta, model.ReturnCodeInternalError,
		"job was never picked up from the queue", s.now().UTC())
	if err != nil {
		return nil, err
	}
	return s.store.Update(ctx, failed)
}

// deleteOldFinishedJobs deletes FINISHED jobs older than the configured max age.
func (s *ReaperService) deleteOldFinishedJobs(ctx context.Context) (int64, error) {
	return s.deleteTerminal(ctx, model.JobStatusFinished, s.config.FinishedMaxAge)
}

// deleteOldFailedJobs deletes FAILED jobs older than the configured max age.
func (s *ReaperService) deleteOldFailedJobs(ctx context.Context) (int64, error) {
	return s.deleteTerminal(ctx, model.JobStatusFailed, s.config.FailedMaxAge)
}

// deleteTerminal loops until no more rows are affected to handle large datasets in batches.
func (s *ReaperService) deleteTerminal(ctx context.Context, status model.JobStatus, maxAge time.Duration) (int64, error) {
	olderThan := s.now().Add(-maxAge)
	var totalCount int64
	for {
		count, err := s.repo.DeleteTerminalJobs(ctx, core.DeleteTerminalJobsParams{
			Status:    status,
			OlderThan: olderThan,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old jobs",
			"status", status,
			"count", totalCount,
			"max_age", maxAge,
		)
	}

	return totalCount, nil
}

type cleanupMetrics struct {
	OrphanedCount int64
	OrphanedErr   error
	FinishedCount int64
	FinishedErr   error
	FailedCount   int64
	FailedErr     error
	Elapsed       time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.OrphanedCount + m.FinishedCount + m.FailedCount
	firstErr := firstError(m.OrphanedErr, m.FinishedErr, m.FailedErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("fail_orphaned", m.OrphanedCount, m.OrphanedErr)
	s.emitCleanupOperationMetric("delete_finished", m.FinishedCount, m.FinishedErr)
	s.emitCleanupOperationMetric("delete_failed", m.FailedCount, m.FailedErr)

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
