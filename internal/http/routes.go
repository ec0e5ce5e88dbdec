package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/aggregation-worker/internal/observability/statsd"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs   JobAPI
	Budget BudgetAPI

	// Optional: bearer token verification for /v1alpha routes
	Verifier TokenVerifier
	// Optional: exposition handler mounted at /metrics
	MetricsHandler http.Handler
	// Optional: request metrics sink
	Metrics statsd.Sink
	// Optional: dependency probes for /healthz
	HealthChecks []HealthCheck

	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter creates and configures the frontend API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	api := func(h http.HandlerFunc) http.Handler {
		return RequireBearer(services.Verifier, logger)(MaxBodyBytes(services.MaxBodyBytes)(h))
	}

	if services.Jobs != nil {
		jobs := &JobHandlers{Svc: services.Jobs, Logger: logger}
		mux.Handle("POST /v1alpha/createJob", api(jobs.CreateJob))
		mux.Handle("GET /v1alpha/getJob", api(jobs.GetJob))
	}
	if services.Budget != nil {
		budget := &BudgetHandlers{Svc: services.Budget, Logger: logger}
		mux.Handle("POST /v1alpha/getBudget", api(budget.GetBudget))
	}

	health := healthHandler(services.HealthChecks)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)
	if services.MetricsHandler != nil {
		mux.Handle("GET /metrics", services.MetricsHandler)
	}

	var h http.Handler = mux
	h = Metrics(services.Metrics)(h)
	h = Logging(logger)(h)
	h = Recover(logger)(h)
	return h
}
