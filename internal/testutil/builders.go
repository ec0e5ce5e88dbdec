// Package testutil provides testing utilities and helpers for the aggregation worker.
package testutil

import (
	"strconv"
	"time"

	"github.com/target/aggregation-worker/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest(jobRequestID string) *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			RequestInfo: model.RequestInfo{
				JobRequestID:         jobRequestID,
				InputDataBlobPrefix:  "reports/" + jobRequestID,
				InputDataBucketName:  "input-bucket",
				OutputDataBlobPrefix: "summaries/" + jobRequestID,
				OutputDataBucketName: "output-bucket",
				JobParameters:        map[string]string{},
			},
		},
	}
}

// WithParameter sets a job parameter.
func (b *JobRequestBuilder) WithParameter(name, value string) *JobRequestBuilder {
	b.req.JobParameters[name] = value
	return b
}

// WithFilteringIDs sets the filtering_ids job parameter.
func (b *JobRequestBuilder) WithFilteringIDs(ids ...uint64) *JobRequestBuilder {
	var s string
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += strconv.FormatUint(id, 10)
	}
	return b.WithParameter(model.JobParamFilteringIDs, s)
}

// WithReports appends embedded report attributes.
func (b *JobRequestBuilder) WithReports(reports ...model.ReportAttributes) *JobRequestBuilder {
	b.req.Reports = append(b.req.Reports, reports...)
	return b
}

// WithPostbackURL sets the postback URL.
func (b *JobRequestBuilder) WithPostbackURL(url string) *JobRequestBuilder {
	b.req.PostbackURL = url
	return b
}

// Build returns the built CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// ReportBuilder builds report attributes for budget key derivation tests.
type ReportBuilder struct {
	report model.ReportAttributes
}

// NewAttributionReport returns a builder for an attribution-reporting report at version 0.1.
func NewAttributionReport(scheduled time.Time) *ReportBuilder {
	return &ReportBuilder{report: model.ReportAttributes{
		API:                 model.APIAttributionReporting,
		Version:             "0.1",
		ReportingOrigin:     "https://report.example.com",
		Destination:         "https://dest.example",
		ScheduledReportTime: scheduled,
	}}
}

// NewSharedStorageReport returns a builder for a shared-storage report at version 1.0.
func NewSharedStorageReport(scheduled time.Time) *ReportBuilder {
	return &ReportBuilder{report: model.ReportAttributes{
		API:                 model.APISharedStorage,
		Version:             "1.0",
		ReportingOrigin:     "https://report.example.com",
		ScheduledReportTime: scheduled,
	}}
}

// WithVersion sets the report version.
func (b *ReportBuilder) WithVersion(v string) *ReportBuilder {
	b.report.Version = v
	return b
}

// WithOrigin sets the reporting origin.
func (b *ReportBuilder) WithOrigin(origin string) *ReportBuilder {
	b.report.ReportingOrigin = origin
	return b
}

// WithDestination sets the attribution destination.
func (b *ReportBuilder) WithDestination(dest string) *ReportBuilder {
	b.report.Destination = dest
	return b
}

// WithSourceRegistrationTime sets the source registration time.
func (b *ReportBuilder) WithSourceRegistrationTime(t time.Time) *ReportBuilder {
	b.report.SourceRegistrationTime = &t
	return b
}

// Build returns the report attributes.
func (b *ReportBuilder) Build() model.ReportAttributes {
	return b.report
}
