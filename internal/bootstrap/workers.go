package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/aggregation-worker/config"
	"github.com/target/aggregation-worker/internal/adapters/jobrunner"
	"github.com/target/aggregation-worker/internal/adapters/reaper"
	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/observability/statsd"
	"github.com/target/aggregation-worker/internal/service/coordinator"
	"github.com/target/aggregation-worker/internal/service/failurenotifier"
)

// WorkerConfig contains configuration for the coordinator worker pool.
type WorkerConfig struct {
	Backends      *Backends
	Keys          coordinator.KeyDeriver
	Logger        *slog.Logger
	Config        *config.AppConfig
	Metrics       statsd.Sink
	Notifier      *failurenotifier.Service
	QueueName     string
	BudgetBackend string

	// Processor overrides the default job body.
	Processor core.JobProcessor
}

// NewCoordinator builds a coordinator over the configured backends.
func NewCoordinator(cfg WorkerConfig) (*coordinator.Coordinator, error) {
	if cfg.Backends == nil {
		return nil, errors.New("backends are required")
	}
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	processor := cfg.Processor
	if processor == nil {
		processor = jobrunner.SummaryProcessor{Logger: cfg.Logger}
	}
	w := cfg.Config.Worker

	obs := coordinator.Observability{Logger: cfg.Logger, Metrics: cfg.Metrics}
	if cfg.Notifier != nil {
		obs.Notifier = cfg.Notifier
	}

	return coordinator.New(coordinator.Options{
		Deps: coordinator.Deps{
			Queue:     cfg.Backends.Queue,
			Store:     cfg.Backends.Store,
			Ledger:    cfg.Backends.Ledger,
			Journal:   cfg.Backends.Journal,
			Reports:   coordinator.EmbeddedReportSource{},
			Keys:      cfg.Keys,
			Processor: processor,
		},
		Config: coordinator.Config{
			QueueName:              cfg.QueueName,
			BudgetBackend:          cfg.BudgetBackend,
			MaxAttempts:            w.MaxAttempts,
			RetryDelay:             w.RetryDelay,
			StoreRetryAttempts:     w.MetadataRetryAttempts,
			StoreRetryBackoff:      w.MetadataRetryBackoff,
			MissingMetadataRetries: w.MissingMetadataRetries,
			MaxProcessingTime:      w.MaxProcessingTime,
			Lease: coordinator.LeaseExtenderConfig{
				Interval:          w.LeaseExtensionInterval,
				Extension:         w.LeaseExtension,
				MaxProcessingTime: w.MaxProcessingTime,
			},
		},
		Observability: obs,
	})
}

// RunWorker starts the coordinator worker pool and blocks until ctx ends.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	coord, err := NewCoordinator(cfg)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Processor:   coord,
		Logger:      cfg.Logger,
		Concurrency: cfg.Config.Worker.Concurrency,
		QueueName:   cfg.QueueName,
		Depth:       cfg.Backends.Depth,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create coordinator runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run coordinator runner: %w", runErr)
	}
	return nil
}

// ReaperConfig contains configuration for the reaper service.
type ReaperConfig struct {
	DB       *sql.DB
	Store    core.JobMetadataStore
	Logger   *slog.Logger
	Config   config.ReaperConfig
	Metrics  statsd.Sink
	Notifier *failurenotifier.Service
}

// RunReaper starts the reaper service for orphan and retention cleanup.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	opts := reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Store:   cfg.Store,
		Metrics: cfg.Metrics,
	}
	if cfg.Notifier != nil {
		opts.Notifier = cfg.Notifier
	}

	runner, err := reaper.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
