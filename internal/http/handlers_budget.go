package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/target/aggregation-worker/internal/service"
)

// BudgetAPI is the budget service surface used by the handlers.
type BudgetAPI interface {
	GetBudget(ctx context.Context, q service.BudgetQuery) ([]service.KeyBudget, error)
}

// BudgetHandlers serves read-only privacy budget queries.
type BudgetHandlers struct {
	Svc    BudgetAPI
	Logger *slog.Logger
}

// BudgetResponse lists the remaining budget per derived key.
type BudgetResponse struct {
	Keys []service.KeyBudget `json:"keys"`
}

// GetBudget handles HTTP requests for the remaining budget of a set of reports.
func (h *BudgetHandlers) GetBudget(w http.ResponseWriter, r *http.Request) {
	var q service.BudgetQuery
	if !DecodeJSON(w, r, &q) {
		return
	}

	keys, err := h.Svc.GetBudget(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, BudgetResponse{Keys: keys})
}
