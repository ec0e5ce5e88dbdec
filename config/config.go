package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: frontend API authentication
//   - database.go: Postgres and Redis connections
//   - http.go: frontend listener
//   - services.go: service modes, budget, queue, worker and reaper settings
//   - observability.go: metrics and failure notifications
type AppConfig struct {
	// IsDev enables debug logging and permits the in-memory backends.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	Auth AuthConfig

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services: frontend, worker, reaper.
	Services string `env:"SERVICES" envDefault:"frontend,worker"`

	Budget BudgetConfig `envPrefix:"BUDGET_"`
	Queue  QueueConfig  `envPrefix:"QUEUE_"`
	Worker WorkerConfig `envPrefix:"WORKER_"`
	Reaper ReaperConfig `envPrefix:"REAPER_"`

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Budget.Sanitize()
	c.Queue.Sanitize()
	c.Worker.Sanitize(c.Queue)
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// Validate reports combinations that Sanitize cannot repair.
func (c *AppConfig) Validate() error {
	if _, err := c.GetEnabledServices(); err != nil {
		return err
	}
	if !c.IsDev {
		if c.Budget.Backend == BackendMemory {
			return fmt.Errorf("BUDGET_BACKEND=%s requires DEV=true", BackendMemory)
		}
		if c.Queue.Backend == BackendMemory {
			return fmt.Errorf("QUEUE_BACKEND=%s requires DEV=true", BackendMemory)
		}
	}
	if c.Queue.Backend == BackendRedis {
		return fmt.Errorf("QUEUE_BACKEND=%s is not supported", BackendRedis)
	}
	if c.Auth.Mode == AuthModeOIDC && c.Auth.IssuerURL == "" {
		return fmt.Errorf("AUTH_ISSUER_URL is required when AUTH_MODE=%s", AuthModeOIDC)
	}
	return nil
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsEnabled reports whether mode is listed in SERVICES.
func (c *AppConfig) IsEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// NeedsPostgres reports whether any enabled component is backed by Postgres.
func (c *AppConfig) NeedsPostgres() bool {
	return c.Budget.Backend == BackendPostgres || c.Queue.Backend == BackendPostgres ||
		c.IsEnabled(ServiceModeReaper)
}
