package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/target/aggregation-worker/internal/domain/model"
)

// maxErrorMessages caps the error summary kept on a record across attempts.
const maxErrorMessages = 20

// ErrInvalidTransition is returned when a status change is not allowed.
type ErrInvalidTransition struct {
	From model.JobStatus
	To   model.JobStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid job status transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from → to is a legal state machine edge.
func CanTransition(from, to model.JobStatus) bool {
	switch from {
	case model.JobStatusReceived:
		return to == model.JobStatusInProgress || to == model.JobStatusFailed
	case model.JobStatusInProgress:
		// IN_PROGRESS → IN_PROGRESS is a reclaim after an abandoned attempt.
		return to == model.JobStatusInProgress || to == model.JobStatusReceived ||
			to == model.JobStatusFinished || to == model.JobStatusFailed
	default:
		return false
	}
}

// StatusForReturnCode maps a result code to the terminal status it implies.
func StatusForReturnCode(code model.ReturnCode) model.JobStatus {
	switch code {
	case model.ReturnCodeSuccess, model.ReturnCodeSuccessWithBudgetOmissions:
		return model.JobStatusFinished
	default:
		return model.JobStatusFailed
	}
}

func transition(meta model.JobMetadata, to model.JobStatus, now time.Time) (model.JobMetadata, error) {
	if !CanTransition(meta.Status, to) {
		return model.JobMetadata{}, &ErrInvalidTransition{From: meta.Status, To: to}
	}
	next := meta.Clone()
	next.Status = to
	next.RequestUpdatedAt = now
	return next, nil
}

// Claim returns the IN_PROGRESS snapshot for a worker taking the job. The attempt count is
// incremented; the record version is left for the store to advance.
func Claim(meta model.JobMetadata, now time.Time) (model.JobMetadata, error) {
	next, err := transition(meta, model.JobStatusInProgress, now)
	if err != nil {
		return model.JobMetadata{}, err
	}
	next.NumAttempts++
	started := now
	next.RequestProcessingStartedAt = &started
	return next, nil
}

// Complete returns the terminal snapshot carrying result. The status is derived from the
// result's return code.
func Complete(meta model.JobMetadata, result model.ResultInfo, now time.Time) (model.JobMetadata, error) {
	to := StatusForReturnCode(result.ReturnCode)
	next, err := transition(meta, to, now)
	if err != nil {
		return model.JobMetadata{}, err
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = now
	}
	if next.ResultInfo != nil && next.ResultInfo.ErrorSummary != nil && result.ErrorSummary == nil {
		result.ErrorSummary = next.ResultInfo.ErrorSummary
	}
	next.ResultInfo = &result
	if to == model.JobStatusFailed && result.ReturnMessage != "" {
		AppendErrorMessage(&next, result.ReturnMessage)
	}
	return next, nil
}

// Fail is Complete for a failure code and message.
func Fail(meta model.JobMetadata, code model.ReturnCode, message string, now time.Time) (model.JobMetadata, error) {
	if StatusForReturnCode(code) != model.JobStatusFailed {
		return model.JobMetadata{}, fmt.Errorf("return code %s is not a failure", code)
	}
	return Complete(meta, model.ResultInfo{ReturnCode: code, ReturnMessage: message}, now)
}

// ReturnForRetry moves an IN_PROGRESS job back to RECEIVED, recording why.
func ReturnForRetry(meta model.JobMetadata, reason string, now time.Time) (model.JobMetadata, error) {
	next, err := transition(meta, model.JobStatusReceived, now)
	if err != nil {
		return model.JobMetadata{}, err
	}
	next.RequestProcessingStartedAt = nil
	if reason != "" {
		AppendErrorMessage(&next, reason)
	}
	return next, nil
}

// AppendErrorMessage adds msg to the record's error summary, keeping the newest entries.
func AppendErrorMessage(meta *model.JobMetadata, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	if meta.ResultInfo == nil {
		meta.ResultInfo = &model.ResultInfo{}
	}
	if meta.ResultInfo.ErrorSummary == nil {
		meta.ResultInfo.ErrorSummary = &model.ErrorSummary{}
	}
	msgs := append(meta.ResultInfo.ErrorSummary.ErrorMessages, msg)
	if len(msgs) > maxErrorMessages {
		msgs = msgs[len(msgs)-maxErrorMessages:]
	}
	meta.ResultInfo.ErrorSummary.ErrorMessages = msgs
}
