package budgetkey

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// selector picks a generator for a parsed version and filtering id.
type selector func(v Version, filteringID *uint64) bool

type versioned struct {
	match     selector
	generator Generator
}

// Provider holds the versioned generators registered for one API. The first matching entry
// wins; registrations must not overlap.
type Provider struct {
	entries []versioned
}

// Select returns the generator registered for the report's declared version.
func (p Provider) Select(in Input) (Generator, error) {
	v, err := ParseVersion(in.Attributes.Version)
	if err != nil {
		return nil, apperrors.InvalidField("version", err.Error())
	}
	for _, e := range p.entries {
		if e.match(v, in.FilteringID) {
			return e.generator, nil
		}
	}
	return nil, apperrors.InvalidInputf("no budget key generator for %s version %s", in.Attributes.API, v)
}

func filteringIDIsZero(id *uint64) bool { return id == nil || *id == 0 }

// attributionProvider selects V1 for pre-1.0 reports without a filtering id and V2 for 1.0+
// reports or any non-zero filtering id.
func attributionProvider() Provider {
	return Provider{entries: []versioned{
		{
			match: func(v Version, id *uint64) bool {
				return v.Compare(version1) < 0 && filteringIDIsZero(id)
			},
			generator: AttributionV1,
		},
		{
			match: func(v Version, id *uint64) bool {
				return v.Compare(version1) >= 0 || !filteringIDIsZero(id)
			},
			generator: AttributionV2,
		},
	}}
}

func originProvider() Provider {
	return Provider{entries: []versioned{
		{match: func(v Version, _ *uint64) bool { return v.Compare(version1) < 0 }, generator: OriginV1},
		{match: func(v Version, _ *uint64) bool { return v.Compare(version1) >= 0 }, generator: OriginV2},
	}}
}

// Factory maps report APIs to their versioned generators.
type Factory struct {
	providers map[string]Provider
}

// NewFactory returns the factory with every supported API registered.
func NewFactory() *Factory {
	return &Factory{providers: map[string]Provider{
		model.APIAttributionReporting:      attributionProvider(),
		model.APIAttributionReportingDebug: attributionProvider(),
		model.APIProtectedAudience:         originProvider(),
		model.APISharedStorage:             originProvider(),
	}}
}

// Generator returns the generator for the input's API and version.
func (f *Factory) Generator(in Input) (Generator, error) {
	api := strings.TrimSpace(in.Attributes.API)
	if api == "" {
		return nil, apperrors.InvalidField("api", "api is required for budget key derivation")
	}
	p, ok := f.providers[api]
	if !ok {
		return nil, apperrors.InvalidInputf("unsupported report api %q", api)
	}
	return p.Select(in)
}

// Derive selects the generator for the input and derives its key.
func (f *Factory) Derive(in Input) (model.PrivacyBudgetKey, error) {
	g, err := f.Generator(in)
	if err != nil {
		return model.PrivacyBudgetKey{}, err
	}
	return g.Derive(in)
}

// DeriveAll derives the deduplicated key set for reports crossed with filtering ids. When
// reportingSite is non-empty, every report's reporting origin must belong to that site.
// Any invalid report fails the whole derivation so that no budget is charged for a job
// with bad input.
func (f *Factory) DeriveAll(reports []model.ReportAttributes, filteringIDs []uint64, reportingSite string) ([]model.PrivacyBudgetKey, error) {
	if len(filteringIDs) == 0 {
		filteringIDs = []uint64{0}
	}
	keys := make([]model.PrivacyBudgetKey, 0, len(reports)*len(filteringIDs))
	for i, r := range reports {
		if reportingSite != "" {
			if err := CheckReportingSite(r.ReportingOrigin, reportingSite); err != nil {
				return nil, apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "report %d", i)
			}
		}
		for _, id := range filteringIDs {
			k, err := f.Derive(Input{Attributes: r, FilteringID: &id})
			if err != nil {
				return nil, apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "report %d", i)
			}
			keys = append(keys, k)
		}
	}
	return model.UniqueKeys(keys), nil
}

// SiteOf returns the scheme and registrable domain (eTLD+1) of an origin, e.g.
// "https://a.b.example.co.uk" → "https://example.co.uk".
func SiteOf(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "", apperrors.InvalidInputf("invalid origin %q", origin)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "origin %q has no registrable domain", origin)
	}
	return u.Scheme + "://" + domain, nil
}

// CheckReportingSite fails when origin does not belong to site.
func CheckReportingSite(origin, site string) error {
	got, err := SiteOf(origin)
	if err != nil {
		return err
	}
	want, err := SiteOf(site)
	if err != nil {
		return apperrors.InvalidField(model.JobParamReportingSite, err.Error())
	}
	if got != want {
		return apperrors.InvalidInputf("reporting origin %q does not belong to reporting site %q", origin, site)
	}
	return nil
}
