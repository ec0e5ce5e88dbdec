package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/aggregation-worker/config"
	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/data"
	"github.com/target/aggregation-worker/internal/data/memstore"
	"github.com/target/aggregation-worker/internal/domain/model"
	"github.com/target/aggregation-worker/internal/mocks"
	"github.com/target/aggregation-worker/internal/observability/notify"
	"github.com/target/aggregation-worker/internal/testutil"
)

type countingSink struct {
	mu     sync.Mutex
	counts map[string]int64
	gauges map[string]float64
}

func (s *countingSink) Count(name string, value int64, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int64{}
	}
	s.counts[name] += value
}

func (s *countingSink) Gauge(name string, value float64, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gauges == nil {
		s.gauges = map[string]float64{}
	}
	s.gauges[name] = value
}

func (s *countingSink) Timing(string, time.Duration, map[string]string) {}

type notifierFunc func(ctx context.Context, payload notify.JobFailurePayload)

func (f notifierFunc) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	f(ctx, payload)
}

func reaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:       time.Minute,
		OrphanMaxAge:   time.Hour,
		FinishedMaxAge: 24 * time.Hour,
		FailedMaxAge:   48 * time.Hour,
		BatchSize:      10,
	}
}

// runLocked makes TryWithReaperLock run its callback.
func runLocked(repo *mocks.MockReaperRepository) {
	repo.EXPECT().TryWithReaperLock(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) (bool, error) {
			return true, fn(ctx)
		})
}

func TestNewReaperService(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, err := NewReaperService(ReaperServiceOptions{Store: memstore.NewMetadataStore(nil)})
	require.Error(t, err)

	_, err = NewReaperService(ReaperServiceOptions{Repo: mocks.NewMockReaperRepository(ctrl)})
	require.Error(t, err)

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   mocks.NewMockReaperRepository(ctrl),
		Store:  memstore.NewMetadataStore(nil),
		Config: reaperConfig(),
		Logger: slog.Default(),
	})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestReaperService_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := testutil.TestTime()

	t.Run("fails orphans and deletes expired terminal jobs", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		store := memstore.NewMetadataStore(data.NewFixedTimeProvider(now.Add(-2 * time.Hour)))
		require.NoError(t, store.Insert(ctx, model.JobMetadata{
			JobKey:      "orphan",
			ServerJobID: "srv-1",
			Status:      model.JobStatusReceived,
		}))
		orphan, err := store.Get(ctx, "orphan")
		require.NoError(t, err)

		runLocked(repo)
		repo.EXPECT().ListOrphanedJobs(gomock.Any(), now.Add(-time.Hour), 10).
			Return([]model.JobMetadata{*orphan}, nil)
		gomock.InOrder(
			repo.EXPECT().DeleteTerminalJobs(gomock.Any(), core.DeleteTerminalJobsParams{
				Status: model.JobStatusFinished, OlderThan: now.Add(-24 * time.Hour), BatchSize: 10,
			}).Return(int64(10), nil),
			repo.EXPECT().DeleteTerminalJobs(gomock.Any(), core.DeleteTerminalJobsParams{
				Status: model.JobStatusFinished, OlderThan: now.Add(-24 * time.Hour), BatchSize: 10,
			}).Return(int64(3), nil),
			repo.EXPECT().DeleteTerminalJobs(gomock.Any(), core.DeleteTerminalJobsParams{
				Status: model.JobStatusFinished, OlderThan: now.Add(-24 * time.Hour), BatchSize: 10,
			}).Return(int64(0), nil),
		)
		repo.EXPECT().DeleteTerminalJobs(gomock.Any(), core.DeleteTerminalJobsParams{
			Status: model.JobStatusFailed, OlderThan: now.Add(-48 * time.Hour), BatchSize: 10,
		}).Return(int64(0), nil)

		var notified []notify.JobFailurePayload
		sink := &countingSink{}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:    repo,
			Store:   store,
			Config:  reaperConfig(),
			Metrics: sink,
			Notifier: notifierFunc(func(_ context.Context, p notify.JobFailurePayload) {
				notified = append(notified, p)
			}),
			Clock: func() time.Time { return now },
		})
		require.NoError(t, err)

		ran, err := svc.RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, ran)

		meta, err := store.Get(ctx, "orphan")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, meta.Status)
		assert.Equal(t, int64(1), meta.RecordVersion)
		assert.Equal(t, model.ReturnCodeInternalError, meta.ResultInfo.ReturnCode)

		require.Len(t, notified, 1)
		assert.Equal(t, "orphan", notified[0].JobKey)
		assert.Equal(t, "reaper", notified[0].Metadata["source"])

		assert.Equal(t, int64(1), sink.counts["reaper.cleanup"])
		assert.Equal(t, int64(3), sink.counts["reaper.cleanup_operation"])
		assert.Equal(t, int64(14), sink.counts["reaper.jobs_processed"])
		assert.Contains(t, sink.gauges, "reaper.last_success_epoch")
	})

	t.Run("orphan picked up by a worker is skipped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		store := memstore.NewMetadataStore(nil)
		require.NoError(t, store.Insert(ctx, model.JobMetadata{JobKey: "K", Status: model.JobStatusReceived}))
		listed, err := store.Get(ctx, "K")
		require.NoError(t, err)

		// A worker claims the job between the list and the reaper's write.
		claimed := listed.Clone()
		claimed.Status = model.JobStatusInProgress
		_, err = store.Update(ctx, claimed)
		require.NoError(t, err)

		runLocked(repo)
		repo.EXPECT().ListOrphanedJobs(gomock.Any(), gomock.Any(), gomock.Any()).
			Return([]model.JobMetadata{*listed}, nil)
		repo.EXPECT().DeleteTerminalJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(2)

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Store: store, Config: reaperConfig()})
		require.NoError(t, err)

		ran, err := svc.RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, ran)

		meta, err := store.Get(ctx, "K")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusInProgress, meta.Status)
	})

	t.Run("lock held elsewhere skips cleanup", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		repo.EXPECT().TryWithReaperLock(gomock.Any(), gomock.Any()).Return(false, nil)

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Store:  memstore.NewMetadataStore(nil),
			Config: reaperConfig(),
		})
		require.NoError(t, err)

		ran, err := svc.RunOnce(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
	})

	t.Run("step errors are joined and later steps still run", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		runLocked(repo)
		repo.EXPECT().ListOrphanedJobs(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("list failed"))
		repo.EXPECT().DeleteTerminalJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(2)

		sink := &countingSink{}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:    repo,
			Store:   memstore.NewMetadataStore(nil),
			Config:  reaperConfig(),
			Metrics: sink,
		})
		require.NoError(t, err)

		ran, err := svc.RunOnce(ctx)
		assert.True(t, ran)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail orphaned jobs: list failed")
		assert.NotContains(t, sink.gauges, "reaper.last_success_epoch")
	})

	t.Run("lock errors are returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		repo.EXPECT().TryWithReaperLock(gomock.Any(), gomock.Any()).Return(false, errors.New("db down"))

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Store:  memstore.NewMetadataStore(nil),
			Config: reaperConfig(),
		})
		require.NoError(t, err)

		_, err = svc.RunOnce(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})
}

func TestReaperService_RunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().TryWithReaperLock(gomock.Any(), gomock.Any()).Return(false, nil).AnyTimes()

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Store:  memstore.NewMetadataStore(nil),
		Config: config.ReaperConfig{Interval: 10 * time.Millisecond, BatchSize: 1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
