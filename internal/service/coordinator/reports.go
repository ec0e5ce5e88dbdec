package coordinator

import (
	"context"

	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/domain/model"
)

// EmbeddedReportSource reads the report attributes posted with the job request.
type EmbeddedReportSource struct{}

var _ core.ReportSource = EmbeddedReportSource{}

// Reports returns the job's embedded reports.
func (EmbeddedReportSource) Reports(_ context.Context, meta model.JobMetadata) ([]model.ReportAttributes, error) {
	return meta.RequestInfo.Reports, nil
}

// ProcessorFunc adapts a function to core.JobProcessor.
type ProcessorFunc func(ctx context.Context, in model.JobInput) (model.JobOutput, error)

var _ core.JobProcessor = ProcessorFunc(nil)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
	return f(ctx, in)
}
