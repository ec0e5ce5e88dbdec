package budgetkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

func TestFactory_SelectsGenerator(t *testing.T) {
	f := NewFactory()

	tests := []struct {
		name        string
		api         string
		version     string
		filteringID *uint64
		want        Generator
	}{
		{"attribution pre-1.0 no filtering id", model.APIAttributionReporting, "0.1", nil, AttributionV1},
		{"attribution pre-1.0 zero filtering id", model.APIAttributionReporting, "0.1", u64(0), AttributionV1},
		{"attribution pre-1.0 non-zero filtering id", model.APIAttributionReporting, "0.1", u64(4), AttributionV2},
		{"attribution 1.0", model.APIAttributionReporting, "1.0", u64(0), AttributionV2},
		{"attribution debug 0.1", model.APIAttributionReportingDebug, "0.1", nil, AttributionV1},
		{"shared storage 0.1", model.APISharedStorage, "0.1", u64(0), OriginV1},
		{"shared storage 1.0", model.APISharedStorage, "1.0", u64(0), OriginV2},
		{"protected audience 1.0", model.APIProtectedAudience, "1.0", u64(9), OriginV2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Attributes: model.ReportAttributes{API: tt.api, Version: tt.version}, FilteringID: tt.filteringID}
			g, err := f.Generator(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name(), g.Name())
		})
	}
}

func TestFactory_RejectsUnknownAPIAndBadVersion(t *testing.T) {
	f := NewFactory()

	_, err := f.Generator(Input{Attributes: model.ReportAttributes{API: "fledge", Version: "1.0"}})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = f.Generator(Input{Attributes: model.ReportAttributes{API: model.APISharedStorage, Version: "v1"}})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = f.Generator(Input{Attributes: model.ReportAttributes{Version: "1.0"}})
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Equal(t, "api", apperrors.GetField(err))
}

func TestFactory_DeriveAll(t *testing.T) {
	f := NewFactory()
	r1 := attributionReport("1.0")
	r2 := attributionReport("1.0")
	r3 := attributionReport("1.0")
	r3.ScheduledReportTime = scheduled.Add(time.Hour)

	keys, err := f.DeriveAll([]model.ReportAttributes{r1, r2, r3}, []uint64{0, 1}, "")
	require.NoError(t, err)
	// r1 and r2 collapse; two filtering ids times two buckets
	assert.Len(t, keys, 4)
}

func TestFactory_DeriveAll_InvalidReportFailsWhole(t *testing.T) {
	f := NewFactory()
	bad := attributionReport("1.0")
	bad.Destination = ""

	keys, err := f.DeriveAll([]model.ReportAttributes{attributionReport("1.0"), bad}, nil, "")
	require.Error(t, err)
	assert.Nil(t, keys)
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "report 1")
}

func TestFactory_DeriveAll_ReportingSite(t *testing.T) {
	f := NewFactory()
	r := attributionReport("1.0")

	_, err := f.DeriveAll([]model.ReportAttributes{r}, nil, "https://example.com")
	require.NoError(t, err)

	_, err = f.DeriveAll([]model.ReportAttributes{r}, nil, "https://elsewhere.com")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestSiteOf(t *testing.T) {
	tests := []struct {
		origin  string
		want    string
		wantErr bool
	}{
		{origin: "https://report.example.com", want: "https://example.com"},
		{origin: "https://a.b.example.co.uk", want: "https://example.co.uk"},
		{origin: "https://example.com:8443", want: "https://example.com"},
		{origin: "example.com", wantErr: true},
		{origin: "https://co.uk", wantErr: true},
		{origin: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			got, err := SiteOf(tt.origin)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
