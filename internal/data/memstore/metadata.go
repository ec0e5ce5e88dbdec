package memstore

import (
	"context"
	"sync"

	"github.com/target/aggregation-worker/internal/data"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// MetadataStore is a map-backed core.JobMetadataStore.
type MetadataStore struct {
	mu    sync.RWMutex
	jobs  map[string]model.JobMetadata
	clock data.TimeProvider
}

// NewMetadataStore creates an empty MetadataStore. A nil clock uses real time.
func NewMetadataStore(clock data.TimeProvider) *MetadataStore {
	if clock == nil {
		clock = data.RealTimeProvider{}
	}
	return &MetadataStore{jobs: make(map[string]model.JobMetadata), clock: clock}
}

// Get returns a copy of the record, or nil when absent.
func (s *MetadataStore) Get(_ context.Context, jobKey string) (*model.JobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.jobs[jobKey]
	if !ok {
		return nil, nil
	}
	out := meta.Clone()
	return &out, nil
}

// Insert stores a new record at version 0.
func (s *MetadataStore) Insert(_ context.Context, meta model.JobMetadata) error {
	if meta.JobKey == "" {
		return apperrors.InvalidField("job_key", data.ErrJobKeyRequired.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[meta.JobKey]; ok {
		return apperrors.KeyExistsf("job %s already exists", meta.JobKey)
	}

	stored := meta.Clone()
	stored.RecordVersion = 0
	now := s.clock.Now()
	if stored.RequestReceivedAt.IsZero() {
		stored.RequestReceivedAt = now
	}
	if stored.RequestUpdatedAt.IsZero() {
		stored.RequestUpdatedAt = now
	}
	s.jobs[meta.JobKey] = stored
	return nil
}

// Update replaces the record when the stored version equals meta.RecordVersion.
func (s *MetadataStore) Update(_ context.Context, meta model.JobMetadata) (*model.JobMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[meta.JobKey]
	if !ok || current.RecordVersion != meta.RecordVersion {
		return nil, apperrors.Conflictf("job %s: record missing or version %d is stale", meta.JobKey, meta.RecordVersion)
	}

	stored := meta.Clone()
	stored.RecordVersion = current.RecordVersion + 1
	stored.RequestReceivedAt = current.RequestReceivedAt
	if stored.RequestUpdatedAt.IsZero() {
		stored.RequestUpdatedAt = s.clock.Now()
	}
	s.jobs[meta.JobKey] = stored

	out := stored.Clone()
	return &out, nil
}

// Len returns the number of stored records.
func (s *MetadataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
