package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrivacyBudgetKey_NormalizesBucket(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, loc)
	utc := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	a := NewPrivacyBudgetKey("abc", local)
	b := NewPrivacyBudgetKey("abc", utc)
	assert.Equal(t, a, b)
	assert.True(t, a == b, "normalized keys must be comparable with ==")

	// monotonic clock readings are stripped
	c := NewPrivacyBudgetKey("abc", time.Now())
	d := NewPrivacyBudgetKey("abc", c.TimeBucket)
	assert.True(t, c == d)
}

func TestPrivacyBudgetKey_TextRoundTrip(t *testing.T) {
	k := NewPrivacyBudgetKey("deadbeef", time.Unix(1700000000, 0))
	text, err := k.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "deadbeef@1700000000", string(text))

	var got PrivacyBudgetKey
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, k, got)

	assert.Error(t, got.UnmarshalText([]byte("no-separator")))
	assert.Error(t, got.UnmarshalText([]byte("@123")))
	assert.Error(t, got.UnmarshalText([]byte("fp@notanumber")))
}

func TestConsumptionResult_JSONAndPartition(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	k1 := NewPrivacyBudgetKey("b", t0)
	k2 := NewPrivacyBudgetKey("a", t0)
	k3 := NewPrivacyBudgetKey("c", t0.Add(-time.Hour))
	res := ConsumptionResult{k1: BudgetConsumed, k2: BudgetConsumed, k3: BudgetExhausted}

	assert.Equal(t, []PrivacyBudgetKey{k2, k1}, res.Consumed())
	assert.Equal(t, []PrivacyBudgetKey{k3}, res.Exhausted())

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var back ConsumptionResult
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, res, back)
}

func TestUniqueKeys(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	k1 := NewPrivacyBudgetKey("a", t0)
	k2 := NewPrivacyBudgetKey("b", t0)
	got := UniqueKeys([]PrivacyBudgetKey{k1, k2, k1, NewPrivacyBudgetKey("a", t0)})
	assert.Equal(t, []PrivacyBudgetKey{k1, k2}, got)
}
