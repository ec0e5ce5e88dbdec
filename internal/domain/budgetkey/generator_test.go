package budgetkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

var (
	scheduled = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	sourceReg = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func u64(v uint64) *uint64 { return &v }

func attributionReport(version string) model.ReportAttributes {
	srt := sourceReg
	return model.ReportAttributes{
		API:                    model.APIAttributionReporting,
		Version:                version,
		ReportingOrigin:        "https://report.example.com",
		Destination:            "https://dest.example",
		ScheduledReportTime:    scheduled,
		SourceRegistrationTime: &srt,
	}
}

func TestAttributionV1_KnownFingerprint(t *testing.T) {
	key, err := AttributionV1.Derive(Input{Attributes: attributionReport("0.1")})
	require.NoError(t, err)
	assert.Equal(t, "50c4ca6e9f735afbf06044a60f6ccf419c1a491bd4dd5e94244a457ae6909bc9", key.Fingerprint)
	assert.Equal(t, scheduled, key.TimeBucket)
}

func TestAttributionV2_KnownFingerprint(t *testing.T) {
	key, err := AttributionV2.Derive(Input{Attributes: attributionReport("1.0"), FilteringID: u64(7)})
	require.NoError(t, err)
	assert.Equal(t, "c3e5891202edd29840968ddf0124b1da47cb291b9ee93f417042a74a7fbb5c2d", key.Fingerprint)
	assert.Len(t, key.Fingerprint, 64)
}

func TestOriginV2_KnownFingerprint(t *testing.T) {
	in := Input{
		Attributes: model.ReportAttributes{
			API:                 model.APISharedStorage,
			Version:             "1.0",
			ReportingOrigin:     "https://report.example.com",
			ScheduledReportTime: scheduled,
		},
		FilteringID: u64(0),
	}
	key, err := OriginV2.Derive(in)
	require.NoError(t, err)
	assert.Equal(t, "ac729027a5da2688116d4d9eb507616d42acb8a4da31df234ab6998995e4c316", key.Fingerprint)
}

func TestDerive_Deterministic(t *testing.T) {
	in := Input{Attributes: attributionReport("1.0"), FilteringID: u64(3)}
	a, err := AttributionV2.Derive(in)
	require.NoError(t, err)
	b, err := AttributionV2.Derive(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDerive_EveryFieldChangesFingerprint(t *testing.T) {
	base := Input{Attributes: attributionReport("1.0"), FilteringID: u64(1)}
	baseKey, err := AttributionV2.Derive(base)
	require.NoError(t, err)

	mutations := map[string]func(*Input){
		"api":             func(in *Input) { in.Attributes.API = model.APIAttributionReportingDebug },
		"version":         func(in *Input) { in.Attributes.Version = "1.1" },
		"origin":          func(in *Input) { in.Attributes.ReportingOrigin = "https://other.example.com" },
		"destination":     func(in *Input) { in.Attributes.Destination = "https://other.example" },
		"source reg time": func(in *Input) { t := sourceReg.Add(24 * time.Hour); in.Attributes.SourceRegistrationTime = &t },
		"source reg absent": func(in *Input) {
			in.Attributes.SourceRegistrationTime = nil
		},
		"filtering id": func(in *Input) { in.FilteringID = u64(2) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			key, err := AttributionV2.Derive(in)
			require.NoError(t, err)
			assert.NotEqual(t, baseKey.Fingerprint, key.Fingerprint)
		})
	}
}

func TestDerive_TimeBucketNotHashed(t *testing.T) {
	in := Input{Attributes: attributionReport("0.1")}
	a, err := AttributionV1.Derive(in)
	require.NoError(t, err)

	in.Attributes.ScheduledReportTime = scheduled.Add(time.Hour)
	b, err := AttributionV1.Derive(in)
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.TimeBucket, b.TimeBucket)
}

func TestDerive_MissingFields(t *testing.T) {
	tests := []struct {
		name      string
		gen       Generator
		mutate    func(*Input)
		wantField string
	}{
		{"origin", AttributionV1, func(in *Input) { in.Attributes.ReportingOrigin = "" }, "reporting_origin"},
		{"destination", AttributionV1, func(in *Input) { in.Attributes.Destination = " " }, "destination"},
		{"version", AttributionV2, func(in *Input) { in.Attributes.Version = "" }, "version"},
		{"api", AttributionV2, func(in *Input) { in.Attributes.API = "" }, "api"},
		{"filtering id", AttributionV2, func(in *Input) { in.FilteringID = nil }, "filtering_id"},
		{"scheduled time", OriginV1, func(in *Input) { in.Attributes.ScheduledReportTime = time.Time{} }, "scheduled_report_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Attributes: attributionReport("1.0"), FilteringID: u64(0)}
			tt.mutate(&in)
			_, err := tt.gen.Derive(in)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidInput(err))
			assert.Equal(t, tt.wantField, apperrors.GetField(err))
		})
	}
}

func TestOriginV1_IgnoresDestination(t *testing.T) {
	in := Input{Attributes: attributionReport("0.1")}
	in.Attributes.API = model.APISharedStorage
	a, err := OriginV1.Derive(in)
	require.NoError(t, err)

	in.Attributes.Destination = ""
	b, err := OriginV1.Derive(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "0.1", want: Version{0, 1}},
		{in: "1.0", want: Version{1, 0}},
		{in: " 2 ", want: Version{2, 0}},
		{in: "1.10", want: Version{1, 10}},
		{in: "", wantErr: true},
		{in: "a.b", wantErr: true},
		{in: "1.", wantErr: true},
		{in: "-1.0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, -1, Version{0, 9}.Compare(Version{1, 0}))
	assert.Equal(t, 1, Version{1, 10}.Compare(Version{1, 2}))
	assert.Equal(t, 0, Version{1, 0}.Compare(Version{1, 0}))
}
