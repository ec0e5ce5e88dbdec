package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewLeasePolicy(30*time.Second, 0)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, policy.Default())
	})

	t.Run("invalid default lease", func(t *testing.T) {
		policy, err := NewLeasePolicy(0, time.Minute)
		require.ErrorIs(t, err, ErrInvalidDefaultLease)
		assert.Nil(t, policy)
	})

	t.Run("max below default is raised", func(t *testing.T) {
		policy, err := NewLeasePolicy(time.Minute, time.Second)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, policy.Resolve(0).Duration)
	})
}

func TestLeasePolicy_Resolve(t *testing.T) {
	policy, err := NewLeasePolicy(30*time.Second, 10*time.Minute)
	require.NoError(t, err)

	t.Run("explicit duration uses whole seconds", func(t *testing.T) {
		decision := policy.Resolve(45*time.Second + 300*time.Millisecond)
		assert.Equal(t, 45*time.Second, decision.Duration)
		assert.Equal(t, LeaseSourceExplicit, decision.Source)
		assert.False(t, decision.Clamped())
	})

	t.Run("default duration when request is zero", func(t *testing.T) {
		decision := policy.Resolve(0)
		assert.Equal(t, 30*time.Second, decision.Duration)
		assert.Equal(t, LeaseSourceDefault, decision.Source)
	})

	t.Run("sub-second duration clamps to minimum", func(t *testing.T) {
		decision := policy.Resolve(500 * time.Millisecond)
		assert.Equal(t, time.Second, decision.Duration)
		assert.True(t, decision.Clamped())
	})

	t.Run("negative duration clamps to minimum", func(t *testing.T) {
		decision := policy.Resolve(-time.Second)
		assert.Equal(t, time.Second, decision.Duration)
		assert.True(t, decision.Clamped())
	})

	t.Run("above max clamps to max", func(t *testing.T) {
		decision := policy.Resolve(time.Hour)
		assert.Equal(t, 10*time.Minute, decision.Duration)
		assert.True(t, decision.Clamped())
		assert.Equal(t, time.Hour, decision.Requested)
	})

	t.Run("nil policy", func(t *testing.T) {
		var p *LeasePolicy
		assert.Equal(t, time.Duration(0), p.Resolve(time.Second).Duration)
		assert.Equal(t, time.Duration(0), p.Default())
	})
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryDelay(-time.Second))
	assert.Equal(t, 5*time.Second, RetryDelay(5*time.Second+time.Millisecond))
	assert.Equal(t, MaxRetryDelay, RetryDelay(time.Hour))
}
