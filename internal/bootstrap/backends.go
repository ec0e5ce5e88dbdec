package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/aggregation-worker/config"
	"github.com/target/aggregation-worker/internal/adapters/jobrunner"
	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/data"
	"github.com/target/aggregation-worker/internal/data/memstore"
	"github.com/target/aggregation-worker/internal/domain/job"
)

// Backends holds the storage ports selected by BUDGET_BACKEND and QUEUE_BACKEND.
type Backends struct {
	Store   core.JobMetadataStore
	Queue   core.JobQueue
	Ledger  core.BudgetLedger
	Journal core.BudgetJournal

	// Depth is nil when the queue cannot report its backlog.
	Depth jobrunner.DepthReader

	wakeups job.Wakeups
}

// BackendDeps groups the shared connections backends are built on. DB and Redis may be nil
// when no selected backend needs them.
type BackendDeps struct {
	Config *config.AppConfig
	DB     *sql.DB
	Redis  redis.UniversalClient
	Logger *slog.Logger
}

// BuildBackends constructs the job store, queue, ledger and journal.
func BuildBackends(deps BackendDeps) (*Backends, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backends{}
	if err := b.buildJobBackends(deps, logger); err != nil {
		return nil, err
	}
	if err := b.buildBudgetBackends(deps, logger); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backends) buildJobBackends(deps BackendDeps, logger *slog.Logger) error {
	qcfg := deps.Config.Queue
	switch qcfg.Backend {
	case config.BackendPostgres:
		if deps.DB == nil {
			return fmt.Errorf("QUEUE_BACKEND=%s requires a database connection", qcfg.Backend)
		}
		repoCfg := data.RepoConfig{Logger: logger}
		queueCfg := data.QueueConfig{
			Name:           qcfg.Name,
			LeaseDuration:  qcfg.LeaseDuration(),
			ReceiveTimeout: qcfg.ReceiveTimeout,
			PollInterval:   qcfg.PollInterval,
			Logger:         logger,
		}

		// The listener repo only runs LISTEN; it never receives, so it needs no wakeups itself.
		wakeups, err := job.NewQueueWakeups(job.WakeupOptions{Listener: data.NewJobQueueRepo(deps.DB, queueCfg)})
		if err != nil {
			return fmt.Errorf("create queue wakeups: %w", err)
		}
		queueCfg.Wakeups = wakeups
		queue := data.NewJobQueueRepo(deps.DB, queueCfg)

		b.Store = data.NewJobMetadataRepo(deps.DB, repoCfg)
		b.Queue = queue
		b.Depth = queue
		b.wakeups = wakeups
	case config.BackendMemory:
		queue := memstore.NewJobQueue(memstore.QueueOptions{
			LeaseDuration:  qcfg.LeaseDuration(),
			ReceiveTimeout: qcfg.ReceiveTimeout,
			PollInterval:   qcfg.PollInterval,
		})
		b.Store = memstore.NewMetadataStore(nil)
		b.Queue = queue
		b.Depth = queue
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", qcfg.Backend)
	}

	logger.Info("job backends ready", "backend", qcfg.Backend, "queue", qcfg.Name)
	return nil
}

func (b *Backends) buildBudgetBackends(deps BackendDeps, logger *slog.Logger) error {
	bcfg := deps.Config.Budget
	switch bcfg.Backend {
	case config.BackendPostgres:
		if deps.DB == nil {
			return fmt.Errorf("BUDGET_BACKEND=%s requires a database connection", bcfg.Backend)
		}
		repoCfg := data.RepoConfig{Logger: logger}
		b.Ledger = data.NewBudgetLedgerRepo(deps.DB, bcfg.Limit, repoCfg)
		b.Journal = data.NewBudgetJournalRepo(deps.DB, repoCfg)
	case config.BackendRedis:
		if deps.Redis == nil {
			return fmt.Errorf("BUDGET_BACKEND=%s requires a redis connection", bcfg.Backend)
		}
		prefix := deps.Config.Redis.KeyPrefix
		b.Ledger = data.NewRedisBudgetLedger(deps.Redis, bcfg.Limit, prefix)
		b.Journal = data.NewRedisBudgetJournal(deps.Redis, prefix, bcfg.JournalTTL, nil)
	case config.BackendMemory:
		b.Ledger = memstore.NewBudgetLedger(bcfg.Limit)
		b.Journal = memstore.NewBudgetJournal(nil)
	default:
		return fmt.Errorf("unsupported BUDGET_BACKEND %q", bcfg.Backend)
	}

	logger.Info("budget backends ready", "backend", bcfg.Backend, "limit", bcfg.Limit)
	return nil
}

// Close stops queue wake-up listeners.
func (b *Backends) Close() {
	if b != nil && b.wakeups != nil {
		b.wakeups.StopAll()
	}
}
