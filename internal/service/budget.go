package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// KeyDeriver derives the budget keys for a set of reports.
type KeyDeriver interface {
	DeriveAll(reports []model.ReportAttributes, filteringIDs []uint64, reportingSite string) ([]model.PrivacyBudgetKey, error)
}

// KeyBudget is the remaining budget for one key.
type KeyBudget struct {
	Key       model.PrivacyBudgetKey `json:"key"`
	Remaining int                    `json:"remaining"`
}

// BudgetQuery selects the keys whose budget is reported.
type BudgetQuery struct {
	Reports       []model.ReportAttributes `json:"reports"`
	FilteringIDs  []uint64                 `json:"filtering_ids,omitempty"`
	ReportingSite string                   `json:"reporting_site,omitempty"`
}

// BudgetServiceOptions groups dependencies for BudgetService.
type BudgetServiceOptions struct {
	Ledger core.BudgetLedger // Required: budget ledger
	Keys   KeyDeriver        // Required: key derivation
}

// BudgetService answers read-only budget queries. It never consumes budget.
type BudgetService struct {
	ledger core.BudgetLedger
	keys   KeyDeriver
}

// NewBudgetService constructs a new BudgetService.
func NewBudgetService(opts BudgetServiceOptions) (*BudgetService, error) {
	if opts.Ledger == nil {
		return nil, errors.New("BudgetLedger is required")
	}
	if opts.Keys == nil {
		return nil, errors.New("KeyDeriver is required")
	}
	return &BudgetService{ledger: opts.Ledger, keys: opts.Keys}, nil
}

// GetBudget derives the query's keys and returns their remaining budget ordered by time
// bucket then fingerprint.
func (s *BudgetService) GetBudget(ctx context.Context, q BudgetQuery) ([]KeyBudget, error) {
	if len(q.Reports) == 0 {
		return nil, apperrors.InvalidField("reports", "at least one report is required")
	}
	keys, err := s.keys.DeriveAll(q.Reports, q.FilteringIDs, q.ReportingSite)
	if err != nil {
		return nil, err
	}

	remaining, err := s.ledger.GetBudget(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}

	model.SortKeys(keys)
	out := make([]KeyBudget, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyBudget{Key: k, Remaining: remaining[k]})
	}
	return out, nil
}
