package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_ValidAndTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusReceived, JobStatusInProgress, JobStatusFinished, JobStatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, JobStatus("pending").Valid())

	assert.False(t, JobStatusReceived.Terminal())
	assert.False(t, JobStatusInProgress.Terminal())
	assert.True(t, JobStatusFinished.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestRequestInfo_FilteringIDs(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		want    []uint64
		wantErr bool
	}{
		{name: "absent defaults to zero", params: nil, want: []uint64{0}},
		{name: "blank defaults to zero", params: map[string]string{JobParamFilteringIDs: "  "}, want: []uint64{0}},
		{name: "list", params: map[string]string{JobParamFilteringIDs: "1, 2,3"}, want: []uint64{1, 2, 3}},
		{name: "duplicates dropped", params: map[string]string{JobParamFilteringIDs: "5,5,0"}, want: []uint64{5, 0}},
		{name: "max uint64", params: map[string]string{JobParamFilteringIDs: "18446744073709551615"}, want: []uint64{18446744073709551615}},
		{name: "negative", params: map[string]string{JobParamFilteringIDs: "-1"}, wantErr: true},
		{name: "garbage", params: map[string]string{JobParamFilteringIDs: "abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequestInfo{JobParameters: tt.params}.FilteringIDs()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func validCreateRequest() CreateJobRequest {
	return CreateJobRequest{RequestInfo: RequestInfo{
		JobRequestID:         "job-1",
		InputDataBlobPrefix:  "reports/",
		InputDataBucketName:  "input",
		OutputDataBlobPrefix: "summary/",
		OutputDataBucketName: "output",
	}}
}

func TestCreateJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateJobRequest)
		errMsg string
	}{
		{name: "valid", mutate: func(*CreateJobRequest) {}},
		{name: "missing id", mutate: func(r *CreateJobRequest) { r.JobRequestID = " " }, errMsg: "job_request_id is required"},
		{name: "long id", mutate: func(r *CreateJobRequest) {
			b := make([]byte, 129)
			for i := range b {
				b[i] = 'a'
			}
			r.JobRequestID = string(b)
		}, errMsg: "at most 128"},
		{name: "missing input prefix", mutate: func(r *CreateJobRequest) { r.InputDataBlobPrefix = "" }, errMsg: "input_data_blob_prefix"},
		{name: "missing input bucket", mutate: func(r *CreateJobRequest) { r.InputDataBucketName = "" }, errMsg: "input_data_bucket_name"},
		{name: "missing output prefix", mutate: func(r *CreateJobRequest) { r.OutputDataBlobPrefix = "" }, errMsg: "output_data_blob_prefix"},
		{name: "missing output bucket", mutate: func(r *CreateJobRequest) { r.OutputDataBucketName = "" }, errMsg: "output_data_bucket_name"},
		{name: "bad filtering ids", mutate: func(r *CreateJobRequest) {
			r.JobParameters = map[string]string{JobParamFilteringIDs: "x"}
		}, errMsg: "invalid filtering id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCreateJobRequest_JSONIsFlat(t *testing.T) {
	var req CreateJobRequest
	err := json.Unmarshal([]byte(`{"job_request_id":"k","input_data_blob_prefix":"p"}`), &req)
	require.NoError(t, err)
	assert.Equal(t, "k", req.JobRequestID)
	assert.Equal(t, "p", req.InputDataBlobPrefix)
}

func TestJobMetadata_CloneIsDeep(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	srt := started.Add(-time.Hour)
	orig := JobMetadata{
		JobKey: "k",
		RequestInfo: RequestInfo{
			JobParameters: map[string]string{"a": "1"},
			Reports:       []ReportAttributes{{API: APISharedStorage, SourceRegistrationTime: &srt}},
		},
		ResultInfo: &ResultInfo{
			ExhaustedKeys: []PrivacyBudgetKey{NewPrivacyBudgetKey("fp", started)},
			ErrorSummary:  &ErrorSummary{ErrorMessages: []string{"x"}},
		},
		RequestProcessingStartedAt: &started,
	}

	cp := orig.Clone()
	cp.RequestInfo.JobParameters["a"] = "2"
	*cp.RequestInfo.Reports[0].SourceRegistrationTime = srt.Add(time.Hour)
	cp.ResultInfo.ExhaustedKeys[0] = NewPrivacyBudgetKey("other", started)
	cp.ResultInfo.ErrorSummary.ErrorMessages[0] = "y"
	*cp.RequestProcessingStartedAt = started.Add(time.Minute)

	assert.Equal(t, "1", orig.RequestInfo.JobParameters["a"])
	assert.Equal(t, srt, *orig.RequestInfo.Reports[0].SourceRegistrationTime)
	assert.Equal(t, "fp", orig.ResultInfo.ExhaustedKeys[0].Fingerprint)
	assert.Equal(t, "x", orig.ResultInfo.ErrorSummary.ErrorMessages[0])
	assert.Equal(t, started, *orig.RequestProcessingStartedAt)
}
