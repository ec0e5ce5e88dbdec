// Package coordinator runs the per-item protocol that moves a job from RECEIVED through
// IN_PROGRESS to a terminal status while charging its privacy budget at most once.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"

	"github.com/target/aggregation-worker/internal/core"
	"github.com/target/aggregation-worker/internal/domain/job"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
	"github.com/target/aggregation-worker/internal/observability/metrics"
	"github.com/target/aggregation-worker/internal/observability/notify"
	"github.com/target/aggregation-worker/internal/observability/statsd"
)

var errMetadataMissing = errors.New("job metadata not found")

// KeyDeriver turns a job's reports into its privacy budget key set.
type KeyDeriver interface {
	DeriveAll(reports []model.ReportAttributes, filteringIDs []uint64, reportingSite string) ([]model.PrivacyBudgetKey, error)
}

// FailureNotifier is told about every job that reaches FAILED.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// Clock supplies the timestamps written to job metadata.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Deps are the ports the coordinator drives. All are required.
type Deps struct {
	Queue     core.JobQueue
	Store     core.JobMetadataStore
	Ledger    core.BudgetLedger
	Journal   core.BudgetJournal
	Reports   core.ReportSource
	Keys      KeyDeriver
	Processor core.JobProcessor
}

func (d Deps) validate() error {
	switch {
	case d.Queue == nil:
		return errors.New("JobQueue is required")
	case d.Store == nil:
		return errors.New("JobMetadataStore is required")
	case d.Ledger == nil:
		return errors.New("BudgetLedger is required")
	case d.Journal == nil:
		return errors.New("BudgetJournal is required")
	case d.Reports == nil:
		return errors.New("ReportSource is required")
	case d.Keys == nil:
		return errors.New("KeyDeriver is required")
	case d.Processor == nil:
		return errors.New("JobProcessor is required")
	}
	return nil
}

// Config tunes retry behaviour.
type Config struct {
	// QueueName tags metrics.
	QueueName string
	// BudgetBackend tags budget metrics.
	BudgetBackend string
	// MaxAttempts is the claim count at which a job fails with RETRIES_EXHAUSTED.
	MaxAttempts int
	// RetryDelay is the queue visibility delay for a job returned for retry.
	RetryDelay time.Duration
	// StoreRetryAttempts and StoreRetryBackoff bound retries of transient store errors.
	StoreRetryAttempts int
	StoreRetryBackoff  time.Duration
	// MissingMetadataRetries is how often a missing record is re-read before the item is
	// treated as orphaned.
	MissingMetadataRetries int
	// MaxProcessingTime bounds a single job body call. Zero means no bound.
	MaxProcessingTime time.Duration
	// Lease configures background lease extension. A zero interval disables it.
	Lease LeaseExtenderConfig
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.StoreRetryAttempts < 1 {
		c.StoreRetryAttempts = 1
	}
	if c.StoreRetryBackoff <= 0 {
		c.StoreRetryBackoff = 100 * time.Millisecond
	}
	if c.MissingMetadataRetries < 0 {
		c.MissingMetadataRetries = 0
	}
	c.RetryDelay = job.RetryDelay(c.RetryDelay)
}

// Observability groups the optional outputs.
type Observability struct {
	Logger   *slog.Logger
	Metrics  statsd.Sink
	Notifier FailureNotifier
	Clock    Clock
}

// Options configures a Coordinator.
type Options struct {
	Deps          Deps
	Config        Config
	Observability Observability
}

// Coordinator processes queue items one at a time. Any number of coordinators may share the
// same backends; they only contend through the metadata store's record versions, the
// queue's leases and the ledger's per-key check-and-increment.
type Coordinator struct {
	deps     Deps
	cfg      Config
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier FailureNotifier
	clock    Clock
	extender *LeaseExtender
	// atomicLedger is set when a failed ConsumeBudget is known to have charged nothing.
	atomicLedger bool
}

// New constructs a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if err := opts.Deps.validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config
	cfg.applyDefaults()

	logger := opts.Observability.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "coordinator")

	clock := opts.Observability.Clock
	if clock == nil {
		clock = systemClock{}
	}

	ledger, ok := opts.Deps.Ledger.(core.AtomicBudgetLedger)

	return &Coordinator{
		deps:         opts.Deps,
		cfg:          cfg,
		logger:       logger,
		metrics:      opts.Observability.Metrics,
		notifier:     opts.Observability.Notifier,
		clock:        clock,
		extender:     NewLeaseExtender(opts.Deps.Queue, cfg.Lease, logger),
		atomicLedger: ok && ledger.ConsumesAtomically(),
	}, nil
}

// ProcessNext receives at most one item and drives it as far as this attempt can. It returns
// OutcomeIdle when nothing was visible. A non-nil error always comes with OutcomeAborted
// (or an empty outcome when the receive itself failed); the item is then left for its lease
// to expire.
func (c *Coordinator) ProcessNext(ctx context.Context) (Outcome, error) {
	item, err := c.deps.Queue.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("receive: %w", err)
	}
	if item == nil {
		c.emit(OutcomeIdle, "", 0, nil)
		return OutcomeIdle, nil
	}

	start := time.Now()
	a := &attempt{item: *item, logger: c.logger.With("job_key", item.JobKey, "server_job_id", item.ServerJobID)}
	outcome, err := c.handle(ctx, a)
	if err != nil {
		outcome = OutcomeAborted
		a.logger.ErrorContext(ctx, "job attempt aborted", "error", err)
	}
	c.emit(outcome, a.returnCode, time.Since(start), err)
	return outcome, err
}

// attempt carries the state of one delivery through the protocol.
type attempt struct {
	item       model.JobQueueItem
	meta       model.JobMetadata
	logger     *slog.Logger
	returnCode model.ReturnCode
	stopLease  func()
}

func (a *attempt) releaseLease() {
	if a.stopLease != nil {
		a.stopLease()
		a.stopLease = nil
	}
}

func (c *Coordinator) handle(ctx context.Context, a *attempt) (Outcome, error) {
	meta, err := c.loadMetadata(ctx, a.item.JobKey)
	switch {
	case errors.Is(err, errMetadataMissing):
		a.logger.ErrorContext(ctx, "queue item references a job with no metadata")
		c.acknowledge(ctx, a)
		return OutcomeOrphaned, nil
	case err != nil:
		return "", fmt.Errorf("read metadata: %w", err)
	}
	a.meta = *meta

	if meta.ServerJobID != "" && a.item.ServerJobID != "" && meta.ServerJobID != a.item.ServerJobID {
		a.logger.WarnContext(ctx, "dropping queue item for an earlier job with the same key",
			"metadata_server_job_id", meta.ServerJobID)
		c.acknowledge(ctx, a)
		return OutcomeStale, nil
	}

	if meta.Status.Terminal() {
		a.logger.InfoContext(ctx, "job already terminal, dropping redelivery", "status", meta.Status)
		c.acknowledge(ctx, a)
		return OutcomeDuplicate, nil
	}

	if meta.Status == model.JobStatusInProgress {
		a.logger.InfoContext(ctx, "reclaiming job from an expired lease",
			"processing_started_at", meta.RequestProcessingStartedAt,
			"num_attempts", meta.NumAttempts)
	}

	if meta.NumAttempts >= c.cfg.MaxAttempts {
		return c.failRetriesExhausted(ctx, a)
	}

	claimed, err := job.Claim(a.meta, c.clock.Now())
	if err != nil {
		return "", fmt.Errorf("claim: %w", err)
	}
	stored, err := c.update(ctx, claimed)
	if apperrors.IsConflict(err) {
		a.logger.InfoContext(ctx, "another worker claimed the job", "record_version", a.meta.RecordVersion)
		return OutcomeLostRace, nil
	}
	if err != nil {
		return "", fmt.Errorf("claim: %w", err)
	}
	a.meta = *stored
	a.logger = a.logger.With("attempt", a.meta.NumAttempts)
	a.logger.InfoContext(ctx, "job claimed", "record_version", a.meta.RecordVersion)

	a.stopLease = c.extender.Start(ctx, a.item)
	defer a.releaseLease()

	return c.run(ctx, a)
}

// run executes a claimed job: key derivation, budget consumption, the job body and the
// terminal write.
func (c *Coordinator) run(ctx context.Context, a *attempt) (Outcome, error) {
	keys, err := c.deriveKeys(ctx, a.meta)
	switch {
	case apperrors.IsInvalidInput(err):
		return c.finish(ctx, a, failure(model.ReturnCodeInvalidJob, err.Error()))
	case err != nil:
		return c.returnForRetry(ctx, a, fmt.Sprintf("load reports: %v", err))
	}

	outcomes, err := c.consume(ctx, a, keys)
	var budgetErr *budgetStateError
	switch {
	case errors.As(err, &budgetErr):
		return c.finish(ctx, a, failure(model.ReturnCodePrivacyBudgetError, budgetErr.Error()))
	case err != nil:
		return c.returnForRetry(ctx, a, err.Error())
	}

	result, err := c.process(ctx, a, outcomes)
	if err != nil {
		return "", err
	}
	return c.finish(ctx, a, result)
}

func (c *Coordinator) deriveKeys(ctx context.Context, meta model.JobMetadata) ([]model.PrivacyBudgetKey, error) {
	ids, err := meta.RequestInfo.FilteringIDs()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "filtering ids")
	}

	var reports []model.ReportAttributes
	err = c.withStoreRetry(ctx, func() error {
		var rErr error
		reports, rErr = c.deps.Reports.Reports(ctx, meta)
		return rErr
	})
	if err != nil {
		return nil, err
	}

	return c.deps.Keys.DeriveAll(reports, ids, meta.RequestInfo.ReportingSite())
}

// budgetStateError means the ledger may or may not have charged this job's keys. The job
// cannot be retried without risking a double charge.
type budgetStateError struct {
	msg string
	err error
}

func (e *budgetStateError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *budgetStateError) Unwrap() error { return e.err }

// consume charges the job's keys once per job. The journal entry is written before the ledger
// call; on redelivery a recorded entry is reused and a bare intent means the earlier attempt's
// charge is unknown. When the ledger rolls back failed calls, a failure that outlasts the
// retries drops the intent and the job goes back for retry.
func (c *Coordinator) consume(
	ctx context.Context,
	a *attempt,
	keys []model.PrivacyBudgetKey,
) (model.ConsumptionResult, error) {
	var (
		entry   *model.BudgetJournalEntry
		created bool
	)
	err := c.withStoreRetry(ctx, func() error {
		var bErr error
		entry, created, bErr = c.deps.Journal.Begin(ctx, a.item.JobKey)
		return bErr
	})
	if err != nil {
		return nil, fmt.Errorf("budget journal: %w", err)
	}

	if !created {
		if entry != nil && entry.State == model.JournalRecorded {
			a.logger.InfoContext(ctx, "reusing recorded budget outcomes",
				"consumed", len(entry.Outcomes.Consumed()),
				"exhausted", len(entry.Outcomes.Exhausted()),
			)
			return entry.Outcomes, nil
		}
		return nil, &budgetStateError{msg: "budget consumption from an earlier attempt did not complete"}
	}

	outcomes, err := c.consumeLedger(ctx, keys)
	if err != nil {
		return nil, c.abandonIntent(ctx, a, err)
	}
	metrics.EmitBudgetConsumption(c.metrics, c.cfg.BudgetBackend, len(outcomes.Consumed()), len(outcomes.Exhausted()))

	recErr := c.withStoreRetry(ctx, func() error {
		return c.deps.Journal.Record(ctx, a.item.JobKey, outcomes)
	})
	if recErr != nil {
		// The outcomes are still valid for this attempt; only a redelivery would be affected.
		a.logger.WarnContext(ctx, "failed to record budget outcomes", "error", recErr)
	}
	return outcomes, nil
}

// consumeLedger calls the ledger once, or with retries when a failed call charges nothing.
// Conflicts are retried too since the ledger maps deadlocks and serialization failures to them.
func (c *Coordinator) consumeLedger(ctx context.Context, keys []model.PrivacyBudgetKey) (model.ConsumptionResult, error) {
	if !c.atomicLedger {
		return c.deps.Ledger.ConsumeBudget(ctx, keys)
	}
	var outcomes model.ConsumptionResult
	err := retry.Do(
		func() error {
			var cErr error
			outcomes, cErr = c.deps.Ledger.ConsumeBudget(ctx, keys)
			return cErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.StoreRetryAttempts)),
		retry.Delay(c.cfg.StoreRetryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return apperrors.IsStore(err) || apperrors.IsTimeout(err) || apperrors.IsConflict(err)
		}),
		retry.LastErrorOnly(true),
	)
	return outcomes, err
}

// abandonIntent handles a failed ledger call. Only an atomic ledger lets the intent be dropped;
// otherwise, or when the drop fails, the charge is unknown and the job cannot be retried.
func (c *Coordinator) abandonIntent(ctx context.Context, a *attempt, consumeErr error) error {
	if !c.atomicLedger {
		return &budgetStateError{msg: "consume budget", err: consumeErr}
	}
	err := c.withStoreRetry(ctx, func() error {
		return c.deps.Journal.Abandon(ctx, a.item.JobKey)
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to abandon budget intent", "error", err, "consume_error", consumeErr)
		return &budgetStateError{msg: "consume budget", err: errors.Join(consumeErr, err)}
	}
	a.logger.WarnContext(ctx, "budget ledger unavailable, nothing was charged", "error", consumeErr)
	return fmt.Errorf("consume budget: %w", consumeErr)
}

func (c *Coordinator) process(ctx context.Context, a *attempt, outcomes model.ConsumptionResult) (model.ResultInfo, error) {
	consumed := outcomes.Consumed()
	exhausted := outcomes.Exhausted()

	pctx := ctx
	if c.cfg.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.cfg.MaxProcessingTime)
		defer cancel()
	}

	out, err := c.deps.Processor.Process(pctx, model.JobInput{
		JobKey:        a.meta.JobKey,
		ServerJobID:   a.meta.ServerJobID,
		RequestInfo:   a.meta.RequestInfo,
		ConsumedKeys:  consumed,
		ExhaustedKeys: exhausted,
	})
	if ctx.Err() != nil {
		return model.ResultInfo{}, fmt.Errorf("process: %w", ctx.Err())
	}

	result := model.ResultInfo{ConsumedKeys: len(consumed), ExhaustedKeys: exhausted}
	var jobErr *model.JobError
	switch {
	case errors.As(err, &jobErr):
		result.ReturnCode = jobErr.Code
		result.ReturnMessage = jobErr.Message
		if jobErr.Err != nil {
			result.ReturnMessage += ": " + jobErr.Err.Error()
		}
	case err != nil:
		result.ReturnCode = model.ReturnCodeInternalError
		result.ReturnMessage = err.Error()
	case len(exhausted) > 0:
		result.ReturnCode = model.ReturnCodeSuccessWithBudgetOmissions
		result.ReturnMessage = out.ReturnMessage
	default:
		result.ReturnCode = model.ReturnCodeSuccess
		result.ReturnMessage = out.ReturnMessage
	}
	if job.StatusForReturnCode(result.ReturnCode) == model.JobStatusFinished && err != nil {
		// A job body cannot report success through an error.
		result.ReturnCode = model.ReturnCodeInternalError
	}
	return result, nil
}

func failure(code model.ReturnCode, message string) model.ResultInfo {
	return model.ResultInfo{ReturnCode: code, ReturnMessage: message}
}

// finish writes the terminal record against the version this attempt claimed, then
// acknowledges. A conflict here means the single-owner invariant was broken, so the item is
// left unacknowledged and the error is surfaced.
func (c *Coordinator) finish(ctx context.Context, a *attempt, result model.ResultInfo) (Outcome, error) {
	terminal, err := job.Complete(a.meta, result, c.clock.Now())
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	stored, err := c.update(ctx, terminal)
	if err != nil {
		return "", fmt.Errorf("write terminal status %s: %w", terminal.Status, err)
	}
	a.meta = *stored
	a.returnCode = result.ReturnCode
	a.releaseLease()

	a.logger.InfoContext(ctx, "job finished",
		"status", stored.Status,
		"return_code", result.ReturnCode,
		"record_version", stored.RecordVersion,
		"consumed_keys", result.ConsumedKeys,
		"exhausted_keys", len(result.ExhaustedKeys),
	)

	c.acknowledge(ctx, a)
	if stored.Status == model.JobStatusFailed {
		c.notifyFailure(ctx, *stored)
	}
	return OutcomeProcessed, nil
}

func (c *Coordinator) failRetriesExhausted(ctx context.Context, a *attempt) (Outcome, error) {
	msg := fmt.Sprintf("job exceeded %d attempts", c.cfg.MaxAttempts)
	failed, err := job.Fail(a.meta, model.ReturnCodeRetriesExhausted, msg, c.clock.Now())
	if err != nil {
		return "", fmt.Errorf("fail job: %w", err)
	}
	stored, err := c.update(ctx, failed)
	if apperrors.IsConflict(err) {
		return OutcomeLostRace, nil
	}
	if err != nil {
		return "", fmt.Errorf("write retries exhausted: %w", err)
	}
	a.returnCode = model.ReturnCodeRetriesExhausted
	a.logger.WarnContext(ctx, "job failed after too many attempts", "num_attempts", stored.NumAttempts)

	c.acknowledge(ctx, a)
	c.notifyFailure(ctx, *stored)
	return OutcomeRetriesExhausted, nil
}

// returnForRetry puts a claimed job back to RECEIVED when nothing has been charged yet and
// makes its item visible again after the retry delay.
func (c *Coordinator) returnForRetry(ctx context.Context, a *attempt, reason string) (Outcome, error) {
	reset, err := job.ReturnForRetry(a.meta, reason, c.clock.Now())
	if err != nil {
		return "", fmt.Errorf("return for retry: %w", err)
	}
	stored, err := c.update(ctx, reset)
	if err != nil {
		return "", fmt.Errorf("return for retry: %w", err)
	}
	a.meta = *stored
	a.releaseLease()

	if err := c.deps.Queue.ExtendLease(ctx, a.item, c.cfg.RetryDelay); err != nil {
		a.logger.WarnContext(ctx, "failed to set retry delay, item becomes visible when its lease expires",
			"error", err)
	}
	a.logger.WarnContext(ctx, "job returned for retry", "reason", reason, "retry_delay", c.cfg.RetryDelay)
	return OutcomeReturnedForRetry, nil
}

func (c *Coordinator) loadMetadata(ctx context.Context, jobKey string) (*model.JobMetadata, error) {
	var meta *model.JobMetadata
	err := retry.Do(
		func() error {
			return c.withStoreRetry(ctx, func() error {
				var gErr error
				meta, gErr = c.deps.Store.Get(ctx, jobKey)
				if gErr == nil && meta == nil {
					return errMetadataMissing
				}
				return gErr
			})
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MissingMetadataRetries+1)),
		retry.Delay(c.cfg.StoreRetryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errMetadataMissing) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Coordinator) update(ctx context.Context, meta model.JobMetadata) (*model.JobMetadata, error) {
	var stored *model.JobMetadata
	err := c.withStoreRetry(ctx, func() error {
		var uErr error
		stored, uErr = c.deps.Store.Update(ctx, meta)
		return uErr
	})
	return stored, err
}

// withStoreRetry retries fn on transient store errors only. Conflicts are returned at once
// because their handling depends on the protocol step.
func (c *Coordinator) withStoreRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.StoreRetryAttempts)),
		retry.Delay(c.cfg.StoreRetryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return apperrors.IsStore(err) || apperrors.IsTimeout(err)
		}),
		retry.LastErrorOnly(true),
	)
}

// acknowledge removes the item. A stale receipt means the lease lapsed and another receiver
// has the item; it will find the job terminal and drop it.
func (c *Coordinator) acknowledge(ctx context.Context, a *attempt) {
	err := c.deps.Queue.Acknowledge(ctx, a.item)
	switch {
	case err == nil:
	case apperrors.IsStaleReceipt(err):
		a.logger.WarnContext(ctx, "acknowledge lost the lease, redelivery will be dropped")
	default:
		a.logger.ErrorContext(ctx, "acknowledge failed", "error", err)
	}
}

func (c *Coordinator) notifyFailure(ctx context.Context, meta model.JobMetadata) {
	if c.notifier == nil || meta.ResultInfo == nil {
		return
	}
	c.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobKey:      meta.JobKey,
		ServerJobID: meta.ServerJobID,
		ReturnCode:  string(meta.ResultInfo.ReturnCode),
		Message:     meta.ResultInfo.ReturnMessage,
		NumAttempts: meta.NumAttempts,
		OccurredAt:  meta.RequestUpdatedAt,
		Metadata: map[string]string{
			"queue": c.cfg.QueueName,
		},
	})
}

func (c *Coordinator) emit(outcome Outcome, code model.ReturnCode, d time.Duration, err error) {
	result := outcome.metricResult()
	if outcome == OutcomeProcessed && job.StatusForReturnCode(code) == model.JobStatusFailed {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(c.metrics, metrics.JobMetric{
		Queue:      c.cfg.QueueName,
		Transition: string(outcome),
		Result:     result,
		ReturnCode: string(code),
		Duration:   d,
		Err:        err,
	})
}
