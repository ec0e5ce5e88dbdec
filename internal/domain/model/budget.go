package model

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Report APIs with registered budget key generators.
const (
	APIAttributionReporting      = "attribution-reporting"
	APIAttributionReportingDebug = "attribution-reporting-debug"
	APIProtectedAudience         = "protected-audience"
	APISharedStorage             = "shared-storage"
)

// ReportAttributes are the shared report fields that identify a privacy budget bucket.
type ReportAttributes struct {
	API                    string     `json:"api"`
	Version                string     `json:"version"`
	ReportingOrigin        string     `json:"reporting_origin"`
	Destination            string     `json:"destination,omitempty"`
	ScheduledReportTime    time.Time  `json:"scheduled_report_time"`
	SourceRegistrationTime *time.Time `json:"source_registration_time,omitempty"`
}

func (a ReportAttributes) clone() ReportAttributes {
	out := a
	if a.SourceRegistrationTime != nil {
		t := *a.SourceRegistrationTime
		out.SourceRegistrationTime = &t
	}
	return out
}

// PrivacyBudgetKey identifies one privacy budget bucket: a hex fingerprint of the report
// attributes plus the scheduled report time it falls in. Keys built with NewPrivacyBudgetKey
// are comparable with == and usable as map keys.
type PrivacyBudgetKey struct {
	Fingerprint string    `json:"fingerprint"`
	TimeBucket  time.Time `json:"time_bucket"`
}

// NewPrivacyBudgetKey normalizes the time bucket to whole seconds in UTC.
func NewPrivacyBudgetKey(fingerprint string, bucket time.Time) PrivacyBudgetKey {
	return PrivacyBudgetKey{
		Fingerprint: fingerprint,
		TimeBucket:  bucket.Truncate(time.Second).UTC(),
	}
}

// String renders the key as fingerprint@unix-seconds.
func (k PrivacyBudgetKey) String() string {
	return k.Fingerprint + "@" + strconv.FormatInt(k.TimeBucket.Unix(), 10)
}

// MarshalText implements encoding.TextMarshaler so keys can be used in JSON maps.
func (k PrivacyBudgetKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PrivacyBudgetKey) UnmarshalText(text []byte) error {
	fp, ts, ok := strings.Cut(string(text), "@")
	if !ok || fp == "" {
		return fmt.Errorf("invalid privacy budget key %q", text)
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid privacy budget key time bucket %q: %w", ts, err)
	}
	*k = NewPrivacyBudgetKey(fp, time.Unix(secs, 0))
	return nil
}

// UniqueKeys returns keys with duplicates removed, preserving first-seen order.
func UniqueKeys(keys []PrivacyBudgetKey) []PrivacyBudgetKey {
	seen := make(map[PrivacyBudgetKey]struct{}, len(keys))
	out := make([]PrivacyBudgetKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// BudgetOutcome is the per-key result of a consumption attempt.
type BudgetOutcome string

const (
	// BudgetConsumed means one unit was charged against the key.
	BudgetConsumed BudgetOutcome = "CONSUMED"
	// BudgetExhausted means the key had no budget left and was not charged.
	BudgetExhausted BudgetOutcome = "EXHAUSTED"
)

// ConsumptionResult maps every requested key to its outcome.
type ConsumptionResult map[PrivacyBudgetKey]BudgetOutcome

// Consumed returns the keys that were charged, in a stable order.
func (r ConsumptionResult) Consumed() []PrivacyBudgetKey {
	return r.filter(BudgetConsumed)
}

// Exhausted returns the keys that were refused, in a stable order.
func (r ConsumptionResult) Exhausted() []PrivacyBudgetKey {
	return r.filter(BudgetExhausted)
}

func (r ConsumptionResult) filter(want BudgetOutcome) []PrivacyBudgetKey {
	var out []PrivacyBudgetKey
	for k, v := range r {
		if v == want {
			out = append(out, k)
		}
	}
	SortKeys(out)
	return out
}

// SortKeys orders keys by time bucket then fingerprint.
func SortKeys(keys []PrivacyBudgetKey) {
	slices.SortFunc(keys, func(a, b PrivacyBudgetKey) int {
		if c := a.TimeBucket.Compare(b.TimeBucket); c != 0 {
			return c
		}
		return cmp.Compare(a.Fingerprint, b.Fingerprint)
	})
}

// JournalState tracks how far budget consumption for a job got.
type JournalState string

const (
	// JournalIntent is written before the ledger is called.
	JournalIntent JournalState = "INTENT"
	// JournalRecorded is written once per-key outcomes are known.
	JournalRecorded JournalState = "RECORDED"
)

// BudgetJournalEntry is the per-job consumption record kept by the coordinator.
type BudgetJournalEntry struct {
	JobKey    string            `json:"job_key"`
	State     JournalState      `json:"state"`
	Outcomes  ConsumptionResult `json:"outcomes,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}
