package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/aggregation-worker/internal/domain/model"
)

var bucket = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestBudgetLedger_ConsumeUntilExhausted(t *testing.T) {
	ctx := context.Background()
	l := NewBudgetLedger(1)
	k1 := model.NewPrivacyBudgetKey("k1", bucket)
	k2 := model.NewPrivacyBudgetKey("k2", bucket)

	remaining, err := l.GetBudget(ctx, []model.PrivacyBudgetKey{k1})
	require.NoError(t, err)
	assert.Equal(t, 1, remaining[k1])

	res, err := l.ConsumeBudget(ctx, []model.PrivacyBudgetKey{k1, k1})
	require.NoError(t, err)
	assert.Equal(t, model.ConsumptionResult{k1: model.BudgetConsumed}, res)

	res, err = l.ConsumeBudget(ctx, []model.PrivacyBudgetKey{k1, k2})
	require.NoError(t, err)
	assert.Equal(t, model.BudgetExhausted, res[k1])
	assert.Equal(t, model.BudgetConsumed, res[k2])

	remaining, err = l.GetBudget(ctx, []model.PrivacyBudgetKey{k1, k2})
	require.NoError(t, err)
	assert.Equal(t, 0, remaining[k1])
	assert.Equal(t, 0, remaining[k2])
	assert.Equal(t, 1, l.Consumed(k1))
}

func TestBudgetLedger_ZeroLimit(t *testing.T) {
	l := NewBudgetLedger(0)
	k := model.NewPrivacyBudgetKey("k", bucket)
	res, err := l.ConsumeBudget(context.Background(), []model.PrivacyBudgetKey{k})
	require.NoError(t, err)
	assert.Equal(t, model.BudgetExhausted, res[k])
	assert.Equal(t, 0, l.Consumed(k))
}

func TestBudgetLedger_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	const (
		callers = 50
		limit   = 5
	)
	l := NewBudgetLedger(limit)
	k := model.NewPrivacyBudgetKey("shared", bucket)

	var (
		wg       sync.WaitGroup
		consumed atomic.Int64
		start    = make(chan struct{})
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := l.ConsumeBudget(context.Background(), []model.PrivacyBudgetKey{k})
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if res[k] == model.BudgetConsumed {
				consumed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), consumed.Load())
	assert.Equal(t, limit, l.Consumed(k))
}
