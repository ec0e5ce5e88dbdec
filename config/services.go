package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeFrontend runs the job creation and inspection API.
	ServiceModeFrontend ServiceMode = "frontend"
	// ServiceModeWorker runs the job coordinator worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs orphan and retention cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeFrontend,
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeFrontend, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: frontend, worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// Backend names shared by the budget and queue sections.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// BudgetConfig selects the privacy budget ledger.
type BudgetConfig struct {
	// Backend is one of postgres, redis or memory.
	Backend string `env:"BACKEND" envDefault:"postgres"`

	// Limit caps the number of consumptions per privacy budget key.
	Limit int `env:"LIMIT" envDefault:"1"`

	// JournalTTL bounds how long the Redis consumption journal keeps an entry. It must
	// outlive any possible redelivery of the job.
	JournalTTL time.Duration `env:"JOURNAL_TTL" envDefault:"720h"`
}

// Sanitize applies guardrails to budget configuration values.
func (b *BudgetConfig) Sanitize() {
	b.Backend = normalizeBackend(b.Backend, BackendPostgres)
	if b.Limit < 0 {
		b.Limit = 0
	}
	if b.JournalTTL < 24*time.Hour {
		b.JournalTTL = 24 * time.Hour
	}
}

// QueueConfig configures the job queue.
type QueueConfig struct {
	// Backend is postgres or memory.
	Backend string `env:"BACKEND" envDefault:"postgres"`

	// Name partitions the Postgres job_queue table.
	Name string `env:"NAME" envDefault:"aggregation"`

	// ReceiveTimeout bounds how long a receive blocks when nothing is visible.
	ReceiveTimeout time.Duration `env:"RECEIVE_TIMEOUT" envDefault:"20s"`

	// LeaseSeconds is the visibility lease granted to a receiver.
	LeaseSeconds int `env:"LEASE_SECONDS" envDefault:"300"`

	// PollInterval is the fallback poll period between LISTEN/NOTIFY wakeups.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
}

// LeaseDuration returns the configured lease as a duration.
func (q QueueConfig) LeaseDuration() time.Duration {
	return time.Duration(q.LeaseSeconds) * time.Second
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	q.Backend = normalizeBackend(q.Backend, BackendPostgres)
	if q.Name = strings.TrimSpace(q.Name); q.Name == "" {
		q.Name = "aggregation"
	}
	if q.ReceiveTimeout < 0 {
		q.ReceiveTimeout = 0
	}
	if q.ReceiveTimeout > 60*time.Second {
		q.ReceiveTimeout = 60 * time.Second
	}
	if q.LeaseSeconds < 10 {
		q.LeaseSeconds = 10
	}
	if q.LeaseSeconds > 43200 {
		q.LeaseSeconds = 43200
	}
	if q.PollInterval < 100*time.Millisecond {
		q.PollInterval = 100 * time.Millisecond
	}
}

// WorkerConfig configures the job coordinator worker pool.
type WorkerConfig struct {
	// Concurrency is the number of coordinator loops per process.
	Concurrency int `env:"CONCURRENCY" envDefault:"4"`

	// MaxAttempts is the number of claims after which a job fails with RETRIES_EXHAUSTED.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"5"`

	// LeaseExtensionInterval is how often in-flight leases are extended.
	LeaseExtensionInterval time.Duration `env:"LEASE_EXTENSION_INTERVAL" envDefault:"60s"`

	// LeaseExtension is the visibility granted by each extension.
	LeaseExtension time.Duration `env:"LEASE_EXTENSION" envDefault:"300s"`

	// MaxProcessingTime stops lease extension for jobs that run longer than this.
	MaxProcessingTime time.Duration `env:"MAX_PROCESSING_TIME" envDefault:"6h"`

	// MetadataRetryAttempts and MetadataRetryBackoff govern retries of store errors.
	MetadataRetryAttempts int           `env:"METADATA_RETRY_ATTEMPTS" envDefault:"3"`
	MetadataRetryBackoff  time.Duration `env:"METADATA_RETRY_BACKOFF"  envDefault:"200ms"`

	// MissingMetadataRetries is how often a missing record is re-read before the queue item
	// is treated as orphaned.
	MissingMetadataRetries int `env:"MISSING_METADATA_RETRIES" envDefault:"3"`

	// RetryDelay is the queue visibility delay applied when a job is returned for retry.
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values. The extension interval is
// kept below the queue lease and each extension covers at least two intervals, so an
// extension always lands before the lease lapses.
func (w *WorkerConfig) Sanitize(queue QueueConfig) {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Concurrency > 256 {
		w.Concurrency = 256
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.LeaseExtension <= 0 {
		w.LeaseExtension = queue.LeaseDuration()
	}
	if w.LeaseExtensionInterval <= 0 || w.LeaseExtensionInterval >= queue.LeaseDuration() {
		w.LeaseExtensionInterval = queue.LeaseDuration() / 2
	}
	// Each extension must outlast at least two ticks or one slow tick lets the lease lapse.
	if w.LeaseExtension < 2*w.LeaseExtensionInterval {
		w.LeaseExtension = 2 * w.LeaseExtensionInterval
	}
	if w.MaxProcessingTime < queue.LeaseDuration() {
		w.MaxProcessingTime = queue.LeaseDuration()
	}
	if w.MetadataRetryAttempts < 1 {
		w.MetadataRetryAttempts = 1
	}
	if w.MetadataRetryBackoff <= 0 {
		w.MetadataRetryBackoff = 200 * time.Millisecond
	}
	if w.MissingMetadataRetries < 0 {
		w.MissingMetadataRetries = 0
	}
	if w.RetryDelay < 0 {
		w.RetryDelay = 0
	}
	if w.RetryDelay > 600*time.Second {
		w.RetryDelay = 600 * time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`

	// OrphanMaxAge is how long a RECEIVED job may exist without a queue entry before it is
	// failed with INTERNAL_ERROR.
	OrphanMaxAge time.Duration `env:"ORPHAN_MAX_AGE" envDefault:"1h"`

	// FinishedMaxAge is the retention for FINISHED jobs.
	FinishedMaxAge time.Duration `env:"FINISHED_MAX_AGE" envDefault:"720h"` // 30 days

	// FailedMaxAge is the retention for FAILED jobs.
	FailedMaxAge time.Duration `env:"FAILED_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.OrphanMaxAge < 5*time.Minute {
		r.OrphanMaxAge = 5 * time.Minute
	}
	if r.FinishedMaxAge < 1*time.Hour {
		r.FinishedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

func normalizeBackend(v, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case BackendPostgres, BackendRedis, BackendMemory:
		return v
	default:
		return fallback
	}
}
