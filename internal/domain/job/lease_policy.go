package job

import (
	"errors"
	"time"
)

// MaxRetryDelay bounds how long a job returned for retry stays invisible on the queue.
const MaxRetryDelay = 600 * time.Second

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a positive duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the requested duration was clamped into the supported range.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy normalises queue visibility durations for receives, extensions and retries.
type LeasePolicy struct {
	defaultLease time.Duration
	maxLease     time.Duration
}

// NewLeasePolicy constructs a LeasePolicy. maxLease <= 0 means no upper bound.
func NewLeasePolicy(defaultLease, maxLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	if maxLease > 0 && maxLease < defaultLease {
		maxLease = defaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease, maxLease: maxLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Duration  time.Duration
	Source    LeaseSource
	Requested time.Duration
}

// Clamped reports whether the requested value was clamped.
func (d LeaseDecision) Clamped() bool {
	return d.Source == LeaseSourceClamped
}

// Resolve normalises the requested duration to whole seconds within [1s, maxLease].
// A zero request resolves to the default lease.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request}
	if p == nil {
		decision.Source = LeaseSourceDefault
		return decision
	}

	switch {
	case request == 0:
		decision.Duration = p.defaultLease.Truncate(time.Second)
		decision.Source = LeaseSourceDefault
	case request < time.Second:
		decision.Duration = time.Second
		decision.Source = LeaseSourceClamped
	default:
		decision.Duration = request.Truncate(time.Second)
		decision.Source = LeaseSourceExplicit
	}

	if p.maxLease > 0 && decision.Duration > p.maxLease {
		decision.Duration = p.maxLease
		decision.Source = LeaseSourceClamped
	}
	return decision
}

// RetryDelay clamps a retry visibility delay into [0, MaxRetryDelay].
func RetryDelay(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d > MaxRetryDelay:
		return MaxRetryDelay
	default:
		return d.Truncate(time.Second)
	}
}
