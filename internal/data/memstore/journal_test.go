package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

func TestBudgetJournal_BeginRecord(t *testing.T) {
	ctx := context.Background()
	j := NewBudgetJournal(nil)
	k := model.NewPrivacyBudgetKey("k", bucket)

	err := j.Record(ctx, "job-1", model.ConsumptionResult{k: model.BudgetConsumed})
	assert.True(t, apperrors.IsConflict(err), "got %v", err)

	entry, created, err := j.Begin(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.JournalIntent, entry.State)

	entry, created, err = j.Begin(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.JournalIntent, entry.State)

	outcomes := model.ConsumptionResult{k: model.BudgetConsumed}
	require.NoError(t, j.Record(ctx, "job-1", outcomes))

	entry, created, err = j.Begin(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.JournalRecorded, entry.State)
	assert.Equal(t, outcomes, entry.Outcomes)

	// a second record would overwrite known outcomes
	err = j.Record(ctx, "job-1", model.ConsumptionResult{})
	assert.True(t, apperrors.IsConflict(err), "got %v", err)
}

func TestBudgetJournal_Abandon(t *testing.T) {
	ctx := context.Background()
	j := NewBudgetJournal(nil)
	k := model.NewPrivacyBudgetKey("k", bucket)

	require.NoError(t, j.Abandon(ctx, "missing"))

	_, _, err := j.Begin(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, j.Abandon(ctx, "job-1"))
	entry, err := j.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, created, err := j.Begin(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, created, "begin starts over after an abandoned intent")

	outcomes := model.ConsumptionResult{k: model.BudgetConsumed}
	require.NoError(t, j.Record(ctx, "job-1", outcomes))
	require.NoError(t, j.Abandon(ctx, "job-1"))
	entry, err = j.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.JournalRecorded, entry.State)
	assert.Equal(t, outcomes, entry.Outcomes)
}
