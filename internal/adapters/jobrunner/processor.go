package jobrunner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/aggregation-worker/internal/domain/model"
)

// SummaryProcessor is the default job body. It checks the job can produce output from the
// buckets it was charged for and reports a per-job summary; report decryption and noising
// happen in the aggregation engine that owns the input and output buckets.
type SummaryProcessor struct {
	Logger *slog.Logger
}

// Process fails the job with PRIVACY_BUDGET_EXHAUSTED when every bucket it needs was omitted.
func (p SummaryProcessor) Process(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
	if err := ctx.Err(); err != nil {
		return model.JobOutput{}, err
	}
	if len(in.ConsumedKeys) == 0 && len(in.ExhaustedKeys) > 0 {
		return model.JobOutput{}, model.NewJobError(model.ReturnCodePrivacyBudgetExhausted,
			fmt.Sprintf("all %d privacy budget keys are exhausted", len(in.ExhaustedKeys)), nil)
	}

	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "aggregating job",
			"job_key", in.JobKey,
			"input", in.RequestInfo.InputDataBucketName+"/"+in.RequestInfo.InputDataBlobPrefix,
			"output", in.RequestInfo.OutputDataBucketName+"/"+in.RequestInfo.OutputDataBlobPrefix,
			"consumed_keys", len(in.ConsumedKeys),
		)
	}

	msg := fmt.Sprintf("aggregated %d budget keys", len(in.ConsumedKeys))
	if n := len(in.ExhaustedKeys); n > 0 {
		msg += fmt.Sprintf(", omitted %d exhausted keys", n)
	}
	return model.JobOutput{ReturnMessage: msg}, nil
}
