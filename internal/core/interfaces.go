// Package core declares the ports between the coordination services and their backends.
package core

import (
	"context"
	"time"

	"github.com/target/aggregation-worker/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on concrete backends.

// JobMetadataStore is the durable, versioned record of every job.
//
// Insert fails with a key_exists error when the job key is already present. Update treats
// meta.RecordVersion as the expected stored version and fails with a conflict error when the
// record is missing or the versions differ; on success it returns the stored snapshot with
// the incremented version. Backend failures surface as store errors.
type JobMetadataStore interface {
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, jobKey string) (*model.JobMetadata, error)
	Insert(ctx context.Context, meta model.JobMetadata) error
	Update(ctx context.Context, meta model.JobMetadata) (*model.JobMetadata, error)
}

// JobQueue is an at-least-once delivery channel with per-item visibility leases.
type JobQueue interface {
	Send(ctx context.Context, jobKey, serverJobID string) error
	// Receive blocks up to the configured receive timeout and returns nil, nil when no item
	// became visible.
	Receive(ctx context.Context) (*model.JobQueueItem, error)
	Acknowledge(ctx context.Context, item model.JobQueueItem) error
	// ExtendLease sets the item's visibility deadline to now+extra. extra may be zero to make
	// the item visible again immediately.
	ExtendLease(ctx context.Context, item model.JobQueueItem, extra time.Duration) error
}

// BudgetLedger tracks per-key consumption against a configured limit.
type BudgetLedger interface {
	// GetBudget returns the remaining budget for each key; unknown keys have the full limit.
	GetBudget(ctx context.Context, keys []model.PrivacyBudgetKey) (map[model.PrivacyBudgetKey]int, error)
	// ConsumeBudget charges one unit per key where budget remains. Each key is decided
	// independently and atomically.
	ConsumeBudget(ctx context.Context, keys []model.PrivacyBudgetKey) (model.ConsumptionResult, error)
}

// AtomicBudgetLedger is implemented by ledgers whose ConsumeBudget charges nothing when it
// returns an error. Failed calls against such a ledger can be retried safely.
type AtomicBudgetLedger interface {
	BudgetLedger
	ConsumesAtomically() bool
}

// BudgetJournal records, per job, whether budget consumption was started and what it
// returned. The coordinator uses it to charge a job's budget at most once across attempts.
type BudgetJournal interface {
	// Begin writes an intent entry when none exists and reports created=true. Otherwise it
	// returns the existing entry with created=false.
	Begin(ctx context.Context, jobKey string) (entry *model.BudgetJournalEntry, created bool, err error)
	// Record stores the outcomes for a job whose intent was written by Begin.
	Record(ctx context.Context, jobKey string, outcomes model.ConsumptionResult) error
	// Abandon removes an intent entry after a ledger call that is known to have charged
	// nothing. Recorded entries are kept and a missing entry is not an error.
	Abandon(ctx context.Context, jobKey string) error
}

// ReportSource supplies the report attributes a job's budget keys are derived from.
type ReportSource interface {
	Reports(ctx context.Context, meta model.JobMetadata) ([]model.ReportAttributes, error)
}

// JobProcessor is the job body. It must not touch the ledger or the metadata store.
type JobProcessor interface {
	Process(ctx context.Context, in model.JobInput) (model.JobOutput, error)
}

// ReaperRepository lists and removes records for background cleanup.
type ReaperRepository interface {
	// ListOrphanedJobs returns RECEIVED jobs created before olderThan that have no queue item.
	ListOrphanedJobs(ctx context.Context, olderThan time.Time, limit int) ([]model.JobMetadata, error)
	// DeleteTerminalJobs removes jobs in status updated before olderThan, with their journal
	// entries, and returns how many jobs were removed.
	DeleteTerminalJobs(ctx context.Context, params DeleteTerminalJobsParams) (int64, error)
	// TryWithReaperLock runs fn only when no other reaper holds the cleanup lock.
	TryWithReaperLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error)
}

// DeleteTerminalJobsParams groups parameters for ReaperRepository.DeleteTerminalJobs.
type DeleteTerminalJobsParams struct {
	Status    model.JobStatus
	OlderThan time.Time
	BatchSize int
}
