// Package metrics emits the worker's job and budget metrics through a statsd.Sink.
package metrics

import (
	"time"

	obserrors "github.com/target/aggregation-worker/internal/observability/errors"
	"github.com/target/aggregation-worker/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Queue      string
	Transition string
	Result     string
	ReturnCode string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"queue":      in.Queue,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.ReturnCode != "" {
		tags["return_code"] = in.ReturnCode
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitBudgetConsumption counts per-key consumption outcomes for one ledger call.
func EmitBudgetConsumption(sink statsd.Sink, backend string, consumed, exhausted int) {
	if sink == nil {
		return
	}
	if consumed > 0 {
		sink.Count("budget.consume", int64(consumed), map[string]string{"backend": backend, "outcome": "consumed"})
	}
	if exhausted > 0 {
		sink.Count("budget.consume", int64(exhausted), map[string]string{"backend": backend, "outcome": "exhausted"})
	}
}

// EmitQueueDepth reports the number of items waiting on a queue.
func EmitQueueDepth(sink statsd.Sink, queue string, depth int64) {
	if sink == nil {
		return
	}
	sink.Gauge("queue.depth", float64(depth), map[string]string{"queue": queue})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
