// Package model defines the job, queue and privacy budget types shared across the aggregation worker.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobStatusReceived indicates a job was accepted and is waiting for a worker.
	JobStatusReceived JobStatus = "RECEIVED"
	// JobStatusInProgress indicates a worker has claimed the job.
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	// JobStatusFinished indicates the job completed and produced a result.
	JobStatusFinished JobStatus = "FINISHED"
	// JobStatusFailed indicates the job reached a terminal failure.
	JobStatusFailed JobStatus = "FAILED"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusReceived, JobStatusInProgress, JobStatusFinished, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// ReturnCode classifies the outcome recorded in a job's result summary.
type ReturnCode string

const (
	ReturnCodeSuccess                    ReturnCode = "SUCCESS"
	ReturnCodeSuccessWithBudgetOmissions ReturnCode = "SUCCESS_WITH_BUDGET_OMISSIONS"
	ReturnCodeInvalidJob                 ReturnCode = "INVALID_JOB"
	ReturnCodePrivacyBudgetExhausted     ReturnCode = "PRIVACY_BUDGET_EXHAUSTED"
	ReturnCodePrivacyBudgetError         ReturnCode = "PRIVACY_BUDGET_ERROR"
	ReturnCodeRetriesExhausted           ReturnCode = "RETRIES_EXHAUSTED"
	ReturnCodeInternalError              ReturnCode = "INTERNAL_ERROR"
)

// Job parameter names understood by the coordinator.
const (
	JobParamFilteringIDs  = "filtering_ids"
	JobParamReportingSite = "reporting_site"
)

// RequestInfo carries the caller-supplied parameters of a job. It is stored verbatim on the
// job metadata record.
type RequestInfo struct {
	JobRequestID         string             `json:"job_request_id"`
	InputDataBlobPrefix  string             `json:"input_data_blob_prefix"`
	InputDataBucketName  string             `json:"input_data_bucket_name"`
	OutputDataBlobPrefix string             `json:"output_data_blob_prefix"`
	OutputDataBucketName string             `json:"output_data_bucket_name"`
	PostbackURL          string             `json:"postback_url,omitempty"`
	JobParameters        map[string]string  `json:"job_parameters,omitempty"`
	Reports              []ReportAttributes `json:"reports,omitempty"`
}

// FilteringIDs parses the comma separated filtering_ids job parameter. When the parameter is
// absent the default filtering id 0 is returned.
func (r RequestInfo) FilteringIDs() ([]uint64, error) {
	raw := strings.TrimSpace(r.JobParameters[JobParamFilteringIDs])
	if raw == "" {
		return []uint64{0}, nil
	}

	seen := make(map[uint64]struct{})
	var ids []uint64
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid filtering id %q: %w", part, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []uint64{0}, nil
	}
	return ids, nil
}

// ReportingSite returns the reporting_site job parameter, if any.
func (r RequestInfo) ReportingSite() string {
	return strings.TrimSpace(r.JobParameters[JobParamReportingSite])
}

// ErrorSummary accumulates error messages appended over a job's attempts.
type ErrorSummary struct {
	ErrorMessages []string `json:"error_messages"`
}

// ResultInfo is the result summary written with a terminal status.
type ResultInfo struct {
	ReturnCode    ReturnCode         `json:"return_code"`
	ReturnMessage string             `json:"return_message,omitempty"`
	ConsumedKeys  int                `json:"consumed_keys"`
	ExhaustedKeys []PrivacyBudgetKey `json:"exhausted_keys,omitempty"`
	ErrorSummary  *ErrorSummary      `json:"error_summary,omitempty"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// JobMetadata is the durable record kept for every job key. RecordVersion is owned by the
// metadata store; callers only echo back the version they last observed.
type JobMetadata struct {
	JobKey                     string      `json:"job_key"                                 db:"job_key"`
	ServerJobID                string      `json:"server_job_id"                           db:"server_job_id"`
	Status                     JobStatus   `json:"status"                                  db:"status"`
	RecordVersion              int64       `json:"record_version"                          db:"record_version"`
	NumAttempts                int         `json:"num_attempts"                            db:"num_attempts"`
	RequestInfo                RequestInfo `json:"request_info"                            db:"request_info"`
	ResultInfo                 *ResultInfo `json:"result_info,omitempty"                   db:"result_info"`
	RequestReceivedAt          time.Time   `json:"request_received_at"                     db:"request_received_at"`
	RequestUpdatedAt           time.Time   `json:"request_updated_at"                      db:"request_updated_at"`
	RequestProcessingStartedAt *time.Time  `json:"request_processing_started_at,omitempty" db:"request_processing_started_at"`
}

// Clone returns a deep copy so that stores never share mutable state with callers.
func (m JobMetadata) Clone() JobMetadata {
	out := m
	out.RequestInfo = m.RequestInfo.clone()
	if m.ResultInfo != nil {
		ri := *m.ResultInfo
		ri.ExhaustedKeys = append([]PrivacyBudgetKey(nil), m.ResultInfo.ExhaustedKeys...)
		if m.ResultInfo.ErrorSummary != nil {
			es := ErrorSummary{ErrorMessages: append([]string(nil), m.ResultInfo.ErrorSummary.ErrorMessages...)}
			ri.ErrorSummary = &es
		}
		out.ResultInfo = &ri
	}
	if m.RequestProcessingStartedAt != nil {
		t := *m.RequestProcessingStartedAt
		out.RequestProcessingStartedAt = &t
	}
	return out
}

func (r RequestInfo) clone() RequestInfo {
	out := r
	if r.JobParameters != nil {
		out.JobParameters = make(map[string]string, len(r.JobParameters))
		for k, v := range r.JobParameters {
			out.JobParameters[k] = v
		}
	}
	if r.Reports != nil {
		out.Reports = make([]ReportAttributes, len(r.Reports))
		for i, rep := range r.Reports {
			out.Reports[i] = rep.clone()
		}
	}
	return out
}

// CreateJobRequest is the payload accepted by the job creation API.
type CreateJobRequest struct {
	RequestInfo
}

const maxJobRequestIDLength = 128

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	id := strings.TrimSpace(r.JobRequestID)
	switch {
	case id == "":
		return fmt.Errorf("job_request_id is required")
	case len(id) > maxJobRequestIDLength:
		return fmt.Errorf("job_request_id must be at most %d characters", maxJobRequestIDLength)
	case strings.TrimSpace(r.InputDataBlobPrefix) == "":
		return fmt.Errorf("input_data_blob_prefix is required")
	case strings.TrimSpace(r.InputDataBucketName) == "":
		return fmt.Errorf("input_data_bucket_name is required")
	case strings.TrimSpace(r.OutputDataBlobPrefix) == "":
		return fmt.Errorf("output_data_blob_prefix is required")
	case strings.TrimSpace(r.OutputDataBucketName) == "":
		return fmt.Errorf("output_data_bucket_name is required")
	}
	if _, err := r.FilteringIDs(); err != nil {
		return err
	}
	return nil
}
