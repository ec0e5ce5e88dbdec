package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
	"github.com/target/aggregation-worker/internal/testutil"
)

func newTestMetadata(key string) model.JobMetadata {
	return model.JobMetadata{
		JobKey:      key,
		ServerJobID: uuid.NewString(),
		Status:      model.JobStatusReceived,
		RequestInfo: model.RequestInfo{
			JobRequestID:         key,
			InputDataBlobPrefix:  "input/",
			InputDataBucketName:  "in-bucket",
			OutputDataBlobPrefix: "output/",
			OutputDataBucketName: "out-bucket",
			JobParameters:        map[string]string{model.JobParamFilteringIDs: "0,7"},
		},
	}
}

func TestJobMetadataRepo_InsertGetUpdate(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewJobMetadataRepo(db, RepoConfig{TimeProvider: clock})

		missing, err := repo.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		meta := newTestMetadata("job-1")
		require.NoError(t, repo.Insert(ctx, meta))

		err = repo.Insert(ctx, meta)
		assert.True(t, apperrors.IsKeyExists(err), "got %v", err)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(0), got.RecordVersion)
		assert.Equal(t, meta.ServerJobID, got.ServerJobID)
		assert.Equal(t, "0,7", got.RequestInfo.JobParameters[model.JobParamFilteringIDs])
		assert.True(t, got.RequestReceivedAt.Equal(clock.Now()))

		started := clock.Now()
		got.Status = model.JobStatusInProgress
		got.NumAttempts = 1
		got.RequestProcessingStartedAt = &started
		updated, err := repo.Update(ctx, *got)
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.RecordVersion)
		assert.Equal(t, model.JobStatusInProgress, updated.Status)
		require.NotNil(t, updated.RequestProcessingStartedAt)

		// stale version
		_, err = repo.Update(ctx, *got)
		assert.True(t, apperrors.IsConflict(err), "got %v", err)

		updated.Status = model.JobStatusFinished
		updated.ResultInfo = &model.ResultInfo{ReturnCode: model.ReturnCodeSuccess, ConsumedKeys: 2}
		final, err := repo.Update(ctx, *updated)
		require.NoError(t, err)
		assert.Equal(t, int64(2), final.RecordVersion)
		require.NotNil(t, final.ResultInfo)
		assert.Equal(t, model.ReturnCodeSuccess, final.ResultInfo.ReturnCode)
	})
}

func TestJobMetadataRepo_UpdateMissingIsConflict(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobMetadataRepo(db, RepoConfig{})
		_, err := repo.Update(context.Background(), newTestMetadata("ghost"))
		assert.True(t, apperrors.IsConflict(err), "got %v", err)
	})
}

func TestJobMetadataRepo_Validation(t *testing.T) {
	repo := NewJobMetadataRepo(nil, RepoConfig{})
	ctx := context.Background()

	meta := newTestMetadata("")
	err := repo.Insert(ctx, meta)
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Equal(t, "job_key", apperrors.GetField(err))

	meta = newTestMetadata("job")
	meta.Status = "BOGUS"
	_, err = repo.Update(ctx, meta)
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Equal(t, "status", apperrors.GetField(err))
}
