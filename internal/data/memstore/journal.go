package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/target/aggregation-worker/internal/data"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// BudgetJournal is a map-backed core.BudgetJournal.
type BudgetJournal struct {
	mu      sync.Mutex
	entries map[string]model.BudgetJournalEntry
	clock   data.TimeProvider
}

// NewBudgetJournal creates an empty journal. A nil clock uses real time.
func NewBudgetJournal(clock data.TimeProvider) *BudgetJournal {
	if clock == nil {
		clock = data.RealTimeProvider{}
	}
	return &BudgetJournal{entries: make(map[string]model.BudgetJournalEntry), clock: clock}
}

// Begin writes an INTENT entry unless one exists.
func (j *BudgetJournal) Begin(_ context.Context, jobKey string) (*model.BudgetJournalEntry, bool, error) {
	if jobKey == "" {
		return nil, false, apperrors.InvalidField("job_key", data.ErrJobKeyRequired.Error())
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if existing, ok := j.entries[jobKey]; ok {
		out := copyEntry(existing)
		return &out, false, nil
	}
	entry := model.BudgetJournalEntry{JobKey: jobKey, State: model.JournalIntent, UpdatedAt: j.clock.Now()}
	j.entries[jobKey] = entry
	out := copyEntry(entry)
	return &out, true, nil
}

// Record stores outcomes on an INTENT entry.
func (j *BudgetJournal) Record(_ context.Context, jobKey string, outcomes model.ConsumptionResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.entries[jobKey]
	if !ok || entry.State != model.JournalIntent {
		return apperrors.Wrapf(data.ErrJournalNotStarted, apperrors.ErrCodeConflict, "record budget journal for %s", jobKey)
	}
	entry.State = model.JournalRecorded
	entry.Outcomes = maps.Clone(outcomes)
	entry.UpdatedAt = j.clock.Now()
	j.entries[jobKey] = entry
	return nil
}

// Abandon deletes jobKey's entry while it is still an INTENT.
func (j *BudgetJournal) Abandon(_ context.Context, jobKey string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if entry, ok := j.entries[jobKey]; ok && entry.State == model.JournalIntent {
		delete(j.entries, jobKey)
	}
	return nil
}

// Get returns the entry for jobKey, or nil.
func (j *BudgetJournal) Get(_ context.Context, jobKey string) (*model.BudgetJournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.entries[jobKey]
	if !ok {
		return nil, nil
	}
	out := copyEntry(entry)
	return &out, nil
}

func copyEntry(e model.BudgetJournalEntry) model.BudgetJournalEntry {
	e.Outcomes = maps.Clone(e.Outcomes)
	return e
}
