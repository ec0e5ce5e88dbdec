package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/aggregation-worker/internal/data/memstore"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
	"github.com/target/aggregation-worker/internal/mocks"
	"github.com/target/aggregation-worker/internal/testutil"
)

func newMemJobService(t *testing.T) (*JobService, *memstore.MetadataStore, *memstore.JobQueue) {
	t.Helper()
	store := memstore.NewMetadataStore(nil)
	queue := memstore.NewJobQueue(memstore.QueueOptions{})
	svc := MustNewJobService(JobServiceOptions{
		Store:          store,
		Queue:          queue,
		NewServerJobID: func() string { return "srv-1" },
		Clock:          testutil.TestTime,
	})
	return svc, store, queue
}

func TestNewJobService(t *testing.T) {
	_, err := NewJobService(JobServiceOptions{Queue: memstore.NewJobQueue(memstore.QueueOptions{})})
	require.Error(t, err)

	_, err = NewJobService(JobServiceOptions{Store: memstore.NewMetadataStore(nil)})
	require.Error(t, err)

	assert.Panics(t, func() { MustNewJobService(JobServiceOptions{}) })
}

func TestJobService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a RECEIVED record and enqueues it", func(t *testing.T) {
		svc, store, queue := newMemJobService(t)
		req := testutil.NewJobRequest("  job-1 ").
			WithFilteringIDs(1, 2).
			WithReports(testutil.NewAttributionReport(testutil.TestTime()).Build()).
			Build()

		meta, err := svc.Create(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "job-1", meta.JobKey)
		assert.Equal(t, "srv-1", meta.ServerJobID)
		assert.Equal(t, model.JobStatusReceived, meta.Status)
		assert.Equal(t, int64(0), meta.RecordVersion)
		assert.Equal(t, testutil.TestTime(), meta.RequestReceivedAt)

		stored, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "job-1", stored.RequestInfo.JobRequestID)
		assert.Equal(t, "1,2", stored.RequestInfo.JobParameters[model.JobParamFilteringIDs])
		assert.Len(t, stored.RequestInfo.Reports, 1)

		item, err := queue.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "job-1", item.JobKey)
		assert.Equal(t, "srv-1", item.ServerJobID)
	})

	t.Run("duplicate job request id is rejected", func(t *testing.T) {
		svc, _, queue := newMemJobService(t)
		_, err := svc.Create(ctx, testutil.NewJobRequest("job-1").Build())
		require.NoError(t, err)

		_, err = svc.Create(ctx, testutil.NewJobRequest("job-1").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsKeyExists(err))
		assert.Equal(t, 1, queue.Len())
	})

	tests := []struct {
		name string
		req  *model.CreateJobRequest
	}{
		{name: "nil request", req: nil},
		{name: "missing job request id", req: testutil.NewJobRequest("").Build()},
		{name: "bad filtering ids", req: testutil.NewJobRequest("job-1").WithParameter(model.JobParamFilteringIDs, "x").Build()},
		{
			name: "report outside reporting site",
			req: testutil.NewJobRequest("job-1").
				WithParameter(model.JobParamReportingSite, "https://other.example").
				WithReports(testutil.NewAttributionReport(testutil.TestTime()).Build()).
				Build(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, queue := newMemJobService(t)
			_, err := svc.Create(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidInput(err), "got %v", err)
			assert.Equal(t, 0, store.Len())
			assert.Equal(t, 0, queue.Len())
		})
	}
}

func TestJobService_CreateStoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("transient insert errors are retried", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobMetadataStore(ctrl)
		queue := mocks.NewMockJobQueue(ctrl)
		gomock.InOrder(
			store.EXPECT().Insert(gomock.Any(), gomock.Any()).
				Return(apperrors.Wrap(errors.New("conn reset"), apperrors.ErrCodeStore, "insert job")),
			store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil),
		)
		queue.EXPECT().Send(gomock.Any(), "job-1", "srv-1").Return(nil)

		svc := MustNewJobService(JobServiceOptions{
			Store:             store,
			Queue:             queue,
			StoreRetryBackoff: time.Millisecond,
			NewServerJobID:    func() string { return "srv-1" },
		})
		_, err := svc.Create(ctx, testutil.NewJobRequest("job-1").Build())
		require.NoError(t, err)
	})

	t.Run("insert that committed before its error is not reported as a duplicate", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobMetadataStore(ctrl)
		queue := mocks.NewMockJobQueue(ctrl)
		gomock.InOrder(
			store.EXPECT().Insert(gomock.Any(), gomock.Any()).
				Return(apperrors.Wrap(errors.New("timeout after commit"), apperrors.ErrCodeStore, "insert job")),
			store.EXPECT().Insert(gomock.Any(), gomock.Any()).
				Return(apperrors.KeyExistsf("job job-1 already exists")),
			store.EXPECT().Get(gomock.Any(), "job-1").
				Return(&model.JobMetadata{JobKey: "job-1", ServerJobID: "srv-1", Status: model.JobStatusReceived}, nil),
		)
		queue.EXPECT().Send(gomock.Any(), "job-1", "srv-1").Return(nil)

		svc := MustNewJobService(JobServiceOptions{
			Store:             store,
			Queue:             queue,
			StoreRetryBackoff: time.Millisecond,
			NewServerJobID:    func() string { return "srv-1" },
		})
		meta, err := svc.Create(ctx, testutil.NewJobRequest("job-1").Build())
		require.NoError(t, err)
		assert.Equal(t, "srv-1", meta.ServerJobID)
	})

	t.Run("key held by another request stays a duplicate after a retry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobMetadataStore(ctrl)
		queue := mocks.NewMockJobQueue(ctrl)
		gomock.InOrder(
			store.EXPECT().Insert(gomock.Any(), gomock.Any()).
				Return(apperrors.Wrap(errors.New("conn reset"), apperrors.ErrCodeStore, "insert job")),
			store.EXPECT().Insert(gomock.Any(), gomock.Any()).
				Return(apperrors.KeyExistsf("job job-1 already exists")),
			store.EXPECT().Get(gomock.Any(), "job-1").
				Return(&model.JobMetadata{JobKey: "job-1", ServerJobID: "srv-other"}, nil),
		)

		svc := MustNewJobService(JobServiceOptions{
			Store:             store,
			Queue:             queue,
			StoreRetryBackoff: time.Millisecond,
			NewServerJobID:    func() string { return "srv-1" },
		})
		_, err := svc.Create(ctx, testutil.NewJobRequest("job-1").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsKeyExists(err))
	})

	t.Run("enqueue failure is internal and not retried", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockJobMetadataStore(ctrl)
		queue := mocks.NewMockJobQueue(ctrl)
		store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)
		queue.EXPECT().Send(gomock.Any(), "job-1", gomock.Any()).
			Return(apperrors.Wrap(errors.New("broker down"), apperrors.ErrCodeQueue, "send")).Times(1)

		svc := MustNewJobService(JobServiceOptions{Store: store, Queue: queue})
		_, err := svc.Create(ctx, testutil.NewJobRequest("job-1").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsInternal(err))
	})
}

func TestJobService_Get(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newMemJobService(t)

	_, err := svc.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Get(ctx, " ")
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = svc.Create(ctx, testutil.NewJobRequest("job-1").Build())
	require.NoError(t, err)
	meta, err := svc.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusReceived, meta.Status)
}
