package model

import "fmt"

// JobInput is what the job body receives: the job's parameters and only the budget keys that
// were charged for this job.
type JobInput struct {
	JobKey        string
	ServerJobID   string
	RequestInfo   RequestInfo
	ConsumedKeys  []PrivacyBudgetKey
	ExhaustedKeys []PrivacyBudgetKey
}

// JobOutput is the job body's result summary.
type JobOutput struct {
	ReturnMessage string
}

// JobError is a classified job body failure.
type JobError struct {
	Code    ReturnCode
	Message string
	Err     error
}

// NewJobError builds a JobError.
func NewJobError(code ReturnCode, message string, err error) *JobError {
	return &JobError{Code: code, Message: message, Err: err}
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *JobError) Unwrap() error { return e.Err }
