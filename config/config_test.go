package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - frontend",
			input:    "frontend",
			expected: map[ServiceMode]bool{ServiceModeFrontend: true},
		},
		{
			name:     "single service - worker",
			input:    "worker",
			expected: map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:  "all services with spaces",
			input: " frontend , worker , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeFrontend: true,
				ServiceModeWorker:   true,
				ServiceModeReaper:   true,
			},
		},
		{
			name:  "duplicate services",
			input: "worker,worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "frontend,scheduler",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if !cfg.IsEnabled(ServiceModeFrontend) || !cfg.IsEnabled(ServiceModeWorker) {
		t.Fatalf("expected frontend and worker enabled by default, got %q", cfg.Services)
	}
	if cfg.IsEnabled(ServiceModeReaper) {
		t.Fatal("reaper should be disabled by default")
	}
	if cfg.Budget.Backend != BackendPostgres || cfg.Budget.Limit != 1 {
		t.Fatalf("unexpected budget defaults: %+v", cfg.Budget)
	}
	if cfg.Queue.LeaseDuration() != 5*time.Minute {
		t.Fatalf("lease = %s, want 5m", cfg.Queue.LeaseDuration())
	}
	if cfg.Queue.ReceiveTimeout != 20*time.Second {
		t.Fatalf("receive timeout = %s, want 20s", cfg.Queue.ReceiveTimeout)
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", cfg.Worker.MaxAttempts)
	}
	if cfg.Auth.Mode != AuthModeNone {
		t.Fatalf("auth mode = %q, want none", cfg.Auth.Mode)
	}
	if !cfg.NeedsPostgres() {
		t.Fatal("postgres backends should require a database")
	}
}

func TestAppConfig_ParseCoreOptions(t *testing.T) {
	t.Setenv("SERVICES", "worker")
	t.Setenv("BUDGET_BACKEND", "Redis")
	t.Setenv("BUDGET_LIMIT", "3")
	t.Setenv("QUEUE_LEASE_SECONDS", "120")
	t.Setenv("QUEUE_RECEIVE_TIMEOUT", "5s")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("WORKER_LEASE_EXTENSION_INTERVAL", "150s")
	t.Setenv("REDIS_KEY_PREFIX", "test:")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("NOTIFY_SLACK_JOB_URL_BASE", " https://agg.example.com/v1alpha/getJob ")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Budget.Backend != BackendRedis || cfg.Budget.Limit != 3 {
		t.Fatalf("unexpected budget config: %+v", cfg.Budget)
	}
	if cfg.Queue.LeaseDuration() != 2*time.Minute || cfg.Queue.ReceiveTimeout != 5*time.Second {
		t.Fatalf("unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("concurrency = %d, want 8", cfg.Worker.Concurrency)
	}
	// Extension interval must stay below the lease.
	if cfg.Worker.LeaseExtensionInterval != time.Minute {
		t.Fatalf("extension interval = %s, want 1m", cfg.Worker.LeaseExtensionInterval)
	}
	if cfg.Redis.KeyPrefix != "test:" {
		t.Fatalf("redis prefix = %q", cfg.Redis.KeyPrefix)
	}
	if !cfg.Observability.Metrics.IsEnabled() {
		t.Fatal("metrics should be enabled")
	}
	if got := cfg.Observability.Notifications.Slack.JobURLBase; got != "https://agg.example.com/v1alpha/getJob" {
		t.Fatalf("job url base = %q", got)
	}
	if !cfg.NeedsPostgres() {
		t.Fatal("redis budget with worker only still uses the postgres queue")
	}
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{
			name:    "memory budget requires dev",
			mutate:  func(c *AppConfig) { c.Budget.Backend = BackendMemory },
			wantErr: true,
		},
		{
			name: "memory budget in dev",
			mutate: func(c *AppConfig) {
				c.IsDev = true
				c.Budget.Backend = BackendMemory
				c.Queue.Backend = BackendMemory
			},
		},
		{
			name:    "redis queue unsupported",
			mutate:  func(c *AppConfig) { c.Queue.Backend = BackendRedis },
			wantErr: true,
		},
		{
			name:    "oidc requires issuer",
			mutate:  func(c *AppConfig) { c.Auth.Mode = AuthModeOIDC },
			wantErr: true,
		},
		{
			name:    "bad services",
			mutate:  func(c *AppConfig) { c.Services = "http" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NODE_ENV", "")
			var cfg AppConfig
			if err := env.Parse(&cfg); err != nil {
				t.Fatalf("parse config: %v", err)
			}
			cfg.Sanitize()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestQueueConfig_Sanitize(t *testing.T) {
	q := QueueConfig{Backend: "bogus", Name: " ", ReceiveTimeout: 5 * time.Minute, LeaseSeconds: 1}
	q.Sanitize()

	want := QueueConfig{
		Backend:        BackendPostgres,
		Name:           "aggregation",
		ReceiveTimeout: 60 * time.Second,
		LeaseSeconds:   10,
		PollInterval:   100 * time.Millisecond,
	}
	if !reflect.DeepEqual(q, want) {
		t.Fatalf("sanitized queue = %+v, want %+v", q, want)
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	queue := QueueConfig{LeaseSeconds: 60}
	w := WorkerConfig{RetryDelay: time.Hour, MaxProcessingTime: time.Second}
	w.Sanitize(queue)

	if w.Concurrency != 1 || w.MaxAttempts != 1 {
		t.Fatalf("lower bounds not applied: %+v", w)
	}
	if w.LeaseExtension != time.Minute || w.LeaseExtensionInterval != 30*time.Second {
		t.Fatalf("lease extension defaults not derived from queue lease: %+v", w)
	}
	if w.MaxProcessingTime != time.Minute {
		t.Fatalf("max processing time = %s", w.MaxProcessingTime)
	}
	if w.RetryDelay != 600*time.Second {
		t.Fatalf("retry delay = %s, want 600s", w.RetryDelay)
	}
}

func TestWorkerConfig_SanitizeRaisesShortLeaseExtension(t *testing.T) {
	t.Setenv("WORKER_LEASE_EXTENSION", "10s")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Worker.LeaseExtensionInterval != time.Minute {
		t.Fatalf("extension interval = %s, want 1m", cfg.Worker.LeaseExtensionInterval)
	}
	if cfg.Worker.LeaseExtension != 2*time.Minute {
		t.Fatalf("lease extension = %s, want 2m", cfg.Worker.LeaseExtension)
	}

	w := WorkerConfig{LeaseExtension: 90 * time.Second, LeaseExtensionInterval: 20 * time.Second}
	w.Sanitize(QueueConfig{LeaseSeconds: 60})
	if w.LeaseExtension != 90*time.Second {
		t.Fatalf("lease extension = %s, want 90s kept", w.LeaseExtension)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	r := ReaperConfig{BatchSize: 50000}
	r.Sanitize()

	if r.Interval != time.Minute || r.OrphanMaxAge != 5*time.Minute {
		t.Fatalf("minimum ages not applied: %+v", r)
	}
	if r.BatchSize != 10000 {
		t.Fatalf("batch size = %d, want 10000", r.BatchSize)
	}
}

func TestAuthMode_UnmarshalText(t *testing.T) {
	var m AuthMode
	if err := m.UnmarshalText([]byte(" OIDC ")); err != nil || m != AuthModeOIDC {
		t.Fatalf("got %q, %v", m, err)
	}
	if err := m.UnmarshalText([]byte("oauth")); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestDBConfig_DSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "agg", Password: "p@ss", Name: "aggregation", SSLMode: "require"}
	want := "postgres://agg:p%40ss@db:5432/aggregation?sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}
