// Package jobrunner runs a pool of coordinator workers for the aggregation worker.
package jobrunner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/aggregation-worker/internal/observability/metrics"
	"github.com/target/aggregation-worker/internal/observability/statsd"
	"github.com/target/aggregation-worker/internal/service/coordinator"
)

// ItemProcessor handles one queue item per call.
type ItemProcessor interface {
	ProcessNext(ctx context.Context) (coordinator.Outcome, error)
}

// DepthReader reports how many items are waiting on the queue.
type DepthReader interface {
	Depth(ctx context.Context) (int64, error)
}

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Processor ItemProcessor
	Logger    *slog.Logger

	Concurrency  int           // number of worker goroutines; defaults to 1
	IdleDelay    time.Duration // pause after an empty receive; zero relies on the queue's own receive timeout
	ErrorBackoff time.Duration // pause after an aborted attempt; defaults to 1s

	// Optional queue depth reporting
	QueueName     string
	Depth         DepthReader
	DepthInterval time.Duration // defaults to 30s
	Metrics       statsd.Sink
}

// Runner drives ProcessNext from a fixed number of goroutines until its context ends.
type Runner struct {
	proc          ItemProcessor
	logger        *slog.Logger
	workers       int
	idleDelay     time.Duration
	errorBackoff  time.Duration
	queueName     string
	depth         DepthReader
	depthInterval time.Duration
	metrics       statsd.Sink
}

// NewRunner validates opts and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	backoff := opts.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	depthInterval := opts.DepthInterval
	if depthInterval <= 0 {
		depthInterval = 30 * time.Second
	}

	return &Runner{
		proc:          opts.Processor,
		logger:        logger.With("component", "job_runner"),
		workers:       workers,
		idleDelay:     max(opts.IdleDelay, 0),
		errorBackoff:  backoff,
		queueName:     opts.QueueName,
		depth:         opts.Depth,
		depthInterval: depthInterval,
		metrics:       opts.Metrics,
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled. Worker errors never stop the
// pool; each aborted attempt is logged and the item is left for redelivery.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers, "queue", r.queueName)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		g.Go(func() error {
			r.workerLoop(gctx, i)
			return nil
		})
	}
	if r.depth != nil && r.metrics != nil {
		g.Go(func() error {
			r.reportDepth(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "job runner stopped")
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, worker int) {
	logger := r.logger.With("worker", worker)
	for ctx.Err() == nil {
		outcome, err := r.proc.ProcessNext(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			logger.WarnContext(ctx, "job attempt failed", "outcome", outcome, "error", err)
			if !sleep(ctx, r.errorBackoff) {
				return
			}
		case outcome == coordinator.OutcomeIdle:
			if !sleep(ctx, r.idleDelay) {
				return
			}
		default:
			logger.DebugContext(ctx, "job attempt done", "outcome", outcome)
		}
	}
}

func (r *Runner) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(r.depthInterval)
	defer ticker.Stop()
	for {
		depth, err := r.depth.Depth(ctx)
		switch {
		case err == nil:
			metrics.EmitQueueDepth(r.metrics, r.queueName, depth)
		case ctx.Err() == nil:
			r.logger.WarnContext(ctx, "read queue depth failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sleep waits for d or until ctx ends, reporting whether the caller should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
