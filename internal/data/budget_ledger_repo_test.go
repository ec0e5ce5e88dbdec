package data

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
	"github.com/target/aggregation-worker/internal/testutil"
)

var testBucket = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestBudgetLedgerRepo_ConsumeAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		ledger := NewBudgetLedgerRepo(db, 1, RepoConfig{})
		k1 := model.NewPrivacyBudgetKey("fp-1", testBucket)
		k2 := model.NewPrivacyBudgetKey("fp-2", testBucket)

		remaining, err := ledger.GetBudget(ctx, []model.PrivacyBudgetKey{k1, k2})
		require.NoError(t, err)
		assert.Equal(t, map[model.PrivacyBudgetKey]int{k1: 1, k2: 1}, remaining)

		res, err := ledger.ConsumeBudget(ctx, []model.PrivacyBudgetKey{k1})
		require.NoError(t, err)
		assert.Equal(t, model.ConsumptionResult{k1: model.BudgetConsumed}, res)

		res, err = ledger.ConsumeBudget(ctx, []model.PrivacyBudgetKey{k1, k2, k2})
		require.NoError(t, err)
		assert.Equal(t, model.ConsumptionResult{k1: model.BudgetExhausted, k2: model.BudgetConsumed}, res)

		remaining, err = ledger.GetBudget(ctx, []model.PrivacyBudgetKey{k1, k2})
		require.NoError(t, err)
		assert.Equal(t, map[model.PrivacyBudgetKey]int{k1: 0, k2: 0}, remaining)
	})
}

func TestBudgetLedgerRepo_ConcurrentConsumersRespectLimit(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		const (
			callers = 20
			limit   = 3
		)
		ledger := NewBudgetLedgerRepo(db, limit, RepoConfig{})
		k := model.NewPrivacyBudgetKey("shared", testBucket)

		var (
			wg       sync.WaitGroup
			consumed atomic.Int64
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := ledger.ConsumeBudget(context.Background(), []model.PrivacyBudgetKey{k})
				if err != nil {
					t.Errorf("consume: %v", err)
					return
				}
				if res[k] == model.BudgetConsumed {
					consumed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(limit), consumed.Load())
	})
}

func TestBudgetLedgerRepo_OverlappingBatchesInOppositeOrder(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		const (
			callers = 16
			keys    = 8
		)
		ledger := NewBudgetLedgerRepo(db, callers, RepoConfig{})

		ascending := make([]model.PrivacyBudgetKey, keys)
		for i := range ascending {
			ascending[i] = model.NewPrivacyBudgetKey(fmt.Sprintf("fp-%02d", i), testBucket.Add(time.Duration(i)*time.Hour))
		}
		descending := slices.Clone(ascending)
		slices.Reverse(descending)

		var wg sync.WaitGroup
		for i := range callers {
			batch := ascending
			if i%2 == 1 {
				batch = descending
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := ledger.ConsumeBudget(context.Background(), batch)
				if err != nil {
					t.Errorf("consume: %v", err)
					return
				}
				assert.Len(t, res.Consumed(), keys)
			}()
		}
		wg.Wait()

		remaining, err := ledger.GetBudget(context.Background(), ascending)
		require.NoError(t, err)
		for _, k := range ascending {
			assert.Zero(t, remaining[k], "key %s", k)
		}
		assert.Equal(t, ascending[0], descending[keys-1], "caller's slice order is kept")
	})
}

func TestBudgetJournalRepo_Abandon(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		journal := NewBudgetJournalRepo(db, RepoConfig{})
		k := model.NewPrivacyBudgetKey("fp", testBucket)

		require.NoError(t, journal.Abandon(ctx, "missing"))

		_, _, err := journal.Begin(ctx, "job-1")
		require.NoError(t, err)
		require.NoError(t, journal.Abandon(ctx, "job-1"))
		entry, err := journal.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Nil(t, entry)

		_, created, err := journal.Begin(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, created)
		require.NoError(t, journal.Record(ctx, "job-1", model.ConsumptionResult{k: model.BudgetConsumed}))
		require.NoError(t, journal.Abandon(ctx, "job-1"))
		entry, err = journal.Get(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, model.JournalRecorded, entry.State)
	})
}

func TestBudgetJournalRepo_BeginRecord(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		journal := NewBudgetJournalRepo(db, RepoConfig{})
		k := model.NewPrivacyBudgetKey("fp", testBucket)

		entry, created, err := journal.Begin(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, model.JournalIntent, entry.State)

		entry, created, err = journal.Begin(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, model.JournalIntent, entry.State)

		outcomes := model.ConsumptionResult{k: model.BudgetExhausted}
		require.NoError(t, journal.Record(ctx, "job-1", outcomes))

		entry, created, err = journal.Begin(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, model.JournalRecorded, entry.State)
		assert.Equal(t, outcomes, entry.Outcomes)

		err = journal.Record(ctx, "job-2", outcomes)
		assert.True(t, apperrors.IsConflict(err), "got %v", err)
	})
}
