// Package budgetkey derives privacy budget keys from report attributes.
//
// A key's fingerprint is the hex SHA-256 of a "-" joined, fixed-order list of attributes. Each
// generator variant owns its field list and must never change once keys derived with it have
// been charged against a ledger; new behavior goes into a new variant.
package budgetkey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

const delimiter = "-"

// Input is one report's contribution to budget key derivation.
type Input struct {
	Attributes  model.ReportAttributes
	FilteringID *uint64
}

// Generator derives a privacy budget key for a single report.
type Generator interface {
	Name() string
	Derive(in Input) (model.PrivacyBudgetKey, error)
}

// variant is a closed set of field layouts. Field order in canonical() is fixed.
type variant struct {
	name                   string
	withDestination        bool
	withSourceRegistration bool
	withFilteringID        bool
}

var (
	// AttributionV1 hashes api, version, origin, destination and the optional source
	// registration time.
	AttributionV1 Generator = variant{name: "attribution-v1", withDestination: true, withSourceRegistration: true}
	// AttributionV2 adds the filtering id to AttributionV1.
	AttributionV2 Generator = variant{name: "attribution-v2", withDestination: true, withSourceRegistration: true, withFilteringID: true}
	// OriginV1 hashes api, version and origin. Used by APIs without a destination.
	OriginV1 Generator = variant{name: "origin-v1"}
	// OriginV2 adds the filtering id to OriginV1.
	OriginV2 Generator = variant{name: "origin-v2", withFilteringID: true}
)

func (v variant) Name() string { return v.name }

func (v variant) Derive(in Input) (model.PrivacyBudgetKey, error) {
	if err := v.validate(in); err != nil {
		return model.PrivacyBudgetKey{}, err
	}
	sum := sha256.Sum256([]byte(v.canonical(in)))
	return model.NewPrivacyBudgetKey(hex.EncodeToString(sum[:]), in.Attributes.ScheduledReportTime), nil
}

func (v variant) validate(in Input) error {
	a := in.Attributes
	switch {
	case strings.TrimSpace(a.ReportingOrigin) == "":
		return apperrors.InvalidField("reporting_origin", "reporting origin is required for budget key derivation")
	case v.withDestination && strings.TrimSpace(a.Destination) == "":
		return apperrors.InvalidField("destination", "destination is required for budget key derivation")
	case strings.TrimSpace(a.Version) == "":
		return apperrors.InvalidField("version", "report version is required for budget key derivation")
	case strings.TrimSpace(a.API) == "":
		return apperrors.InvalidField("api", "api is required for budget key derivation")
	case v.withFilteringID && in.FilteringID == nil:
		return apperrors.InvalidField("filtering_id", "filtering id is required for budget key derivation")
	case a.ScheduledReportTime.IsZero():
		return apperrors.InvalidField("scheduled_report_time", "scheduled report time is required for budget key derivation")
	}
	return nil
}

func (v variant) canonical(in Input) string {
	a := in.Attributes
	parts := []string{a.API, a.Version, a.ReportingOrigin}
	if v.withDestination {
		parts = append(parts, a.Destination)
	}
	if v.withSourceRegistration && a.SourceRegistrationTime != nil {
		parts = append(parts, a.SourceRegistrationTime.UTC().Format(time.RFC3339Nano))
	}
	if v.withFilteringID {
		parts = append(parts, strconv.FormatUint(*in.FilteringID, 10))
	}
	return strings.Join(parts, delimiter)
}
