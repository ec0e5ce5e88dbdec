package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/target/aggregation-worker/internal/domain/model"
)

// BudgetLedger keeps one atomic counter per key. Keys never share a lock, so consumption
// for disjoint keys proceeds in parallel.
type BudgetLedger struct {
	limit    int64
	counters sync.Map // model.PrivacyBudgetKey -> *atomic.Int64
}

// NewBudgetLedger creates a ledger that allows limit consumptions per key.
func NewBudgetLedger(limit int) *BudgetLedger {
	return &BudgetLedger{limit: int64(limit)}
}

func (l *BudgetLedger) counter(k model.PrivacyBudgetKey) *atomic.Int64 {
	if c, ok := l.counters.Load(k); ok {
		return c.(*atomic.Int64)
	}
	c, _ := l.counters.LoadOrStore(k, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// GetBudget returns the remaining budget for each key.
func (l *BudgetLedger) GetBudget(_ context.Context, keys []model.PrivacyBudgetKey) (map[model.PrivacyBudgetKey]int, error) {
	keys = model.UniqueKeys(keys)
	out := make(map[model.PrivacyBudgetKey]int, len(keys))
	for _, k := range keys {
		var consumed int64
		if c, ok := l.counters.Load(k); ok {
			consumed = c.(*atomic.Int64).Load()
		}
		out[k] = int(max(0, l.limit-consumed))
	}
	return out, nil
}

// ConsumeBudget charges one unit to every key below the limit.
func (l *BudgetLedger) ConsumeBudget(_ context.Context, keys []model.PrivacyBudgetKey) (model.ConsumptionResult, error) {
	keys = model.UniqueKeys(keys)
	result := make(model.ConsumptionResult, len(keys))
	for _, k := range keys {
		if l.tryConsume(k) {
			result[k] = model.BudgetConsumed
		} else {
			result[k] = model.BudgetExhausted
		}
	}
	return result, nil
}

// ConsumesAtomically reports true: ConsumeBudget never fails part way.
func (l *BudgetLedger) ConsumesAtomically() bool { return true }

func (l *BudgetLedger) tryConsume(k model.PrivacyBudgetKey) bool {
	if l.limit <= 0 {
		return false
	}
	c := l.counter(k)
	for {
		cur := c.Load()
		if cur >= l.limit {
			return false
		}
		if c.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Consumed returns how many units were charged to k.
func (l *BudgetLedger) Consumed(k model.PrivacyBudgetKey) int {
	if c, ok := l.counters.Load(k); ok {
		return int(c.(*atomic.Int64).Load())
	}
	return 0
}
