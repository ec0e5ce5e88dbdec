package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// LeaseExtenderConfig controls how in-flight items are kept invisible.
type LeaseExtenderConfig struct {
	Interval          time.Duration
	Extension         time.Duration
	MaxProcessingTime time.Duration
}

// LeaseExtender periodically pushes back the visibility deadline of items a worker is still
// processing, so a long job is not redelivered while it runs.
type LeaseExtender struct {
	queue  core.JobQueue
	cfg    LeaseExtenderConfig
	logger *slog.Logger
}

// NewLeaseExtender returns nil when cfg.Interval is not positive, which disables extension.
func NewLeaseExtender(queue core.JobQueue, cfg LeaseExtenderConfig, logger *slog.Logger) *LeaseExtender {
	if queue == nil || cfg.Interval <= 0 || cfg.Extension <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseExtender{queue: queue, cfg: cfg, logger: logger.With("component", "lease_extender")}
}

// Start extends item's lease in the background until the returned stop func is called, the
// receipt goes stale, or MaxProcessingTime has elapsed. stop blocks until the goroutine exits
// and is safe to call more than once.
func (e *LeaseExtender) Start(ctx context.Context, item model.JobQueueItem) (stop func()) {
	if e == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.run(ctx, item)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (e *LeaseExtender) run(ctx context.Context, item model.JobQueueItem) {
	started := time.Now()
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if e.cfg.MaxProcessingTime > 0 && time.Since(started) > e.cfg.MaxProcessingTime {
			e.logger.WarnContext(ctx, "max processing time exceeded, lease will lapse",
				"job_key", item.JobKey,
				"max_processing_time", e.cfg.MaxProcessingTime,
			)
			return
		}

		err := e.queue.ExtendLease(ctx, item, e.cfg.Extension)
		switch {
		case err == nil:
			e.logger.DebugContext(ctx, "lease extended", "job_key", item.JobKey, "extension", e.cfg.Extension)
		case ctx.Err() != nil:
			return
		case apperrors.IsStaleReceipt(err):
			e.logger.WarnContext(ctx, "lease lost, stopping extension", "job_key", item.JobKey)
			return
		default:
			e.logger.WarnContext(ctx, "lease extension failed", "job_key", item.JobKey, "error", err)
		}
	}
}
