package coordinator

import "github.com/target/aggregation-worker/internal/observability/metrics"

// Outcome classifies what one ProcessNext call did with the item it received.
type Outcome string

const (
	// OutcomeIdle means no item became visible before the receive timeout.
	OutcomeIdle Outcome = "idle"
	// OutcomeProcessed means the job reached a terminal status in this attempt.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate means the job was already terminal; the item was acknowledged.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeOrphaned means the item referenced a job with no metadata record.
	OutcomeOrphaned Outcome = "orphaned"
	// OutcomeStale means the item belonged to an earlier job with the same key.
	OutcomeStale Outcome = "stale"
	// OutcomeLostRace means another worker's write to the record landed between this
	// worker's read and its claim. The item is left for its lease to expire.
	OutcomeLostRace Outcome = "lost_race"
	// OutcomeRetriesExhausted means the job was failed for exceeding its attempt limit.
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
	// OutcomeReturnedForRetry means the job went back to RECEIVED before any budget was charged.
	OutcomeReturnedForRetry Outcome = "returned_for_retry"
	// OutcomeAborted means the attempt stopped on an error without acknowledging the item.
	OutcomeAborted Outcome = "aborted"
)

// Acknowledged reports whether the queue item is gone after this outcome.
func (o Outcome) Acknowledged() bool {
	switch o {
	case OutcomeProcessed, OutcomeDuplicate, OutcomeOrphaned, OutcomeStale, OutcomeRetriesExhausted:
		return true
	default:
		return false
	}
}

func (o Outcome) metricResult() string {
	switch o {
	case OutcomeProcessed:
		return metrics.ResultSuccess
	case OutcomeOrphaned, OutcomeRetriesExhausted, OutcomeAborted:
		return metrics.ResultError
	default:
		return metrics.ResultNoop
	}
}
