package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/aggregation-worker/config"
	"github.com/target/aggregation-worker/internal/adapters/oidc"
	"github.com/target/aggregation-worker/internal/domain/budgetkey"
	httpx "github.com/target/aggregation-worker/internal/http"
	"github.com/target/aggregation-worker/internal/observability/notify/pagerduty"
	"github.com/target/aggregation-worker/internal/observability/notify/slack"
	"github.com/target/aggregation-worker/internal/observability/prommetrics"
	"github.com/target/aggregation-worker/internal/observability/statsd"
	"github.com/target/aggregation-worker/internal/service"
	"github.com/target/aggregation-worker/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Budget        *service.BudgetService
	Backends      *Backends
	Keys          *budgetkey.Factory
	Verifier      httpx.TokenVerifier // nil when AUTH_MODE=none
	HealthChecks  []httpx.HealthCheck
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink fans out to every enabled metrics backend. Nil when none is enabled.
	MetricsSink     statsd.Sink
	Statsd          *statsd.Client
	Prometheus      *prommetrics.Sink
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// Close flushes and releases metrics connections.
func (o ObservabilityContainer) Close() error {
	if o.Statsd == nil {
		return nil
	}
	return o.Statsd.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures metrics and notification adapters.
func buildObservability(ctx context.Context, logger *slog.Logger, cfg config.ObservabilityConfig, baseURL string) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{
		MetricsConfig:  cfg.Metrics,
		NotifierConfig: cfg.Notifications,
	}

	var sinks []statsd.Sink
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(ctx, statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.Statsd = client
			sinks = append(sinks, client)
		}
	}
	if cfg.Metrics.PrometheusEnabled {
		out.Prometheus = prommetrics.NewSink(prommetrics.Options{
			Namespace:      cfg.Metrics.Prefix,
			Logger:         obsLogger,
			IncludeRuntime: true,
		})
		sinks = append(sinks, out.Prometheus)
	}
	out.MetricsSink = statsd.NewFanout(sinks...)

	out.FailureNotifier = buildFailureNotifier(obsLogger, cfg.Notifications, baseURL)
	return out
}

func buildFailureNotifier(
	logger *slog.Logger,
	cfg config.ObservabilityNotificationsConfig,
	baseURL string,
) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		jobURLBase := cfg.Slack.JobURLBase
		if jobURLBase == "" && baseURL != "" {
			jobURLBase = strings.TrimRight(baseURL, "/") + "/v1alpha/getJob"
		}
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			JobURLBase: jobURLBase,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

//nolint:ireturn // nil verifier disables bearer auth in the router.
func buildVerifier(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (httpx.TokenVerifier, error) {
	if cfg.Mode != config.AuthModeOIDC {
		logger.WarnContext(ctx, "frontend API authentication disabled", "auth_mode", cfg.Mode)
		return nil, nil
	}
	verifier, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
		IssuerURL:       cfg.IssuerURL,
		Audience:        cfg.Audience,
		AllowedSubjects: cfg.AllowedSubjects,
	})
	if err != nil {
		return nil, fmt.Errorf("create oidc verifier: %w", err)
	}
	logger.InfoContext(ctx, "frontend API authentication enabled",
		"issuer", cfg.IssuerURL,
		"audience", cfg.Audience,
		"allowed_subjects", len(cfg.AllowedSubjects),
	)
	return verifier, nil
}

func buildHealthChecks(db *sql.DB, rdb redis.UniversalClient) []httpx.HealthCheck {
	var checks []httpx.HealthCheck
	if db != nil {
		checks = append(checks, httpx.HealthCheck{Name: "postgres", Check: db.PingContext})
	}
	if rdb != nil {
		checks = append(checks, httpx.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return checks
}

// NewServices wires backends and business services from configuration. The OIDC verifier
// is only built when the frontend is enabled.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backends, err := BuildBackends(BackendDeps{
		Config: cfg,
		DB:     deps.DB,
		Redis:  deps.RedisClient,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build backends: %w", err)
	}

	keys := budgetkey.NewFactory()
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store:             backends.Store,
		Queue:             backends.Queue,
		Logger:            logger,
		StoreRetries:      cfg.Worker.MetadataRetryAttempts,
		StoreRetryBackoff: cfg.Worker.MetadataRetryBackoff,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}
	budget, err := service.NewBudgetService(service.BudgetServiceOptions{Ledger: backends.Ledger, Keys: keys})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create budget service: %w", err)
	}

	container := ServiceContainer{
		Jobs:          jobs,
		Budget:        budget,
		Backends:      backends,
		Keys:          keys,
		HealthChecks:  buildHealthChecks(deps.DB, deps.RedisClient),
		Observability: buildObservability(ctx, logger, cfg.Observability, cfg.HTTP.BaseURL),
	}

	if cfg.IsEnabled(config.ServiceModeFrontend) {
		verifier, vErr := buildVerifier(ctx, cfg.Auth, logger)
		if vErr != nil {
			return ServiceContainer{}, vErr
		}
		container.Verifier = verifier
	}

	return container, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the frontend API if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeFrontend] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "coordinator worker",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			svc := deps.cfg.Services
			return RunWorker(ctx, WorkerConfig{
				Backends:      svc.Backends,
				Keys:          svc.Keys,
				Logger:        deps.logger,
				Config:        deps.cfg.Config,
				Metrics:       svc.Observability.MetricsSink,
				Notifier:      svc.Observability.FailureNotifier,
				QueueName:     deps.cfg.Config.Queue.Name,
				BudgetBackend: deps.cfg.Config.Budget.Backend,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			return RunReaper(ctx, ReaperConfig{
				DB:       deps.cfg.DB,
				Store:    deps.cfg.Services.Backends.Store,
				Logger:   deps.logger,
				Config:   reaperCfg,
				Metrics:  deps.cfg.Services.Observability.MetricsSink,
				Notifier: deps.cfg.Services.Observability.FailureNotifier,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return waitForShutdown(shutdownConfig{
		ctx:             serviceCtx,
		cancel:          cancel,
		quit:            quit,
		errCh:           errCh,
		httpServer:      result.HTTPServer,
		shutdownTimeout: cfg.Config.HTTP.ShutdownTimeout,
		logger:          logger,
		backgrounds:     result.Background,
		onStopped: func() {
			cfg.Services.Backends.Close()
			if cerr := cfg.Services.Observability.Close(); cerr != nil {
				logger.Warn("close metrics client failed", "error", cerr)
			}
		},
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx             context.Context
	cancel          context.CancelFunc
	quit            <-chan os.Signal
	errCh           <-chan error
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
	backgrounds     []backgroundServiceHandle
	onStopped       func()
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case sig := <-cfg.quit:
		cfg.logger.Info("shutting down services", "signal", sig.String())
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops the HTTP server first so no new jobs arrive, then waits for workers to
// finish their in-flight items.
func gracefulStop(cfg shutdownConfig) error {
	var stopErr error
	if cfg.httpServer != nil {
		// The service context is already canceled; shutdown gets its own deadline.
		stopErr = ShutdownHTTPServer(ShutdownConfig{
			Context: context.WithoutCancel(cfg.ctx),
			Server:  cfg.httpServer,
			Timeout: cfg.shutdownTimeout,
			Logger:  cfg.logger,
		})
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.onStopped != nil {
		cfg.onStopped()
	}
	return stopErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
