// Package httpx provides the HTTP handlers and middleware of the frontend API.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/target/aggregation-worker/internal/domain/model"
)

// JobAPI is the job service surface used by the handlers.
type JobAPI interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.JobMetadata, error)
	Get(ctx context.Context, jobKey string) (*model.JobMetadata, error)
}

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc    JobAPI
	Logger *slog.Logger
}

// JobView is the externally visible shape of a job.
type JobView struct {
	JobRequestID               string            `json:"job_request_id"`
	JobStatus                  model.JobStatus   `json:"job_status"`
	RequestReceivedAt          time.Time         `json:"request_received_at"`
	RequestUpdatedAt           time.Time         `json:"request_updated_at"`
	RequestProcessingStartedAt *time.Time        `json:"request_processing_started_at,omitempty"`
	InputDataBlobPrefix        string            `json:"input_data_blob_prefix"`
	InputDataBucketName        string            `json:"input_data_bucket_name"`
	OutputDataBlobPrefix       string            `json:"output_data_blob_prefix"`
	OutputDataBucketName       string            `json:"output_data_bucket_name"`
	PostbackURL                string            `json:"postback_url,omitempty"`
	JobParameters              map[string]string `json:"job_parameters,omitempty"`
	NumAttempts                int               `json:"num_attempts"`
	ResultInfo                 *model.ResultInfo `json:"result_info,omitempty"`
}

// NewJobView projects metadata onto the API view. Reports and internal ids are omitted.
func NewJobView(meta *model.JobMetadata) JobView {
	return JobView{
		JobRequestID:               meta.RequestInfo.JobRequestID,
		JobStatus:                  meta.Status,
		RequestReceivedAt:          meta.RequestReceivedAt,
		RequestUpdatedAt:           meta.RequestUpdatedAt,
		RequestProcessingStartedAt: meta.RequestProcessingStartedAt,
		InputDataBlobPrefix:        meta.RequestInfo.InputDataBlobPrefix,
		InputDataBucketName:        meta.RequestInfo.InputDataBucketName,
		OutputDataBlobPrefix:       meta.RequestInfo.OutputDataBlobPrefix,
		OutputDataBucketName:       meta.RequestInfo.OutputDataBucketName,
		PostbackURL:                meta.RequestInfo.PostbackURL,
		JobParameters:              meta.RequestInfo.JobParameters,
		NumAttempts:                meta.NumAttempts,
		ResultInfo:                 meta.ResultInfo,
	}
}

// CreateJob handles HTTP requests to create a new job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if _, err := h.Svc.Create(r.Context(), &req); err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, struct{}{})
}

// GetJob handles HTTP requests for a job's status.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("job_request_id"))
	if id == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: ReasonArgumentMissing,
			Err:     errors.New("job_request_id query parameter is required"),
		})
		return
	}

	meta, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, NewJobView(meta))
}
