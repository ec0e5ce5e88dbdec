package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/target/aggregation-worker/internal/data/pgxutil"
	"github.com/target/aggregation-worker/internal/domain/job"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

const (
	defaultQueueName      = "aggregation"
	defaultLeaseDuration  = 5 * time.Minute
	defaultPollInterval   = time.Second
	queueNotifyChanPrefix = "job_queue_"
)

// QueueConfig configures a JobQueueRepo.
type QueueConfig struct {
	// Name partitions the job_queue table; several logical queues may share it.
	Name string
	// LeaseDuration is how long a received item stays invisible to other receivers.
	LeaseDuration time.Duration
	// ReceiveTimeout bounds how long Receive waits for an item. Zero means a single attempt.
	ReceiveTimeout time.Duration
	// PollInterval is the longest Receive sleeps between attempts when no wakeup arrives.
	PollInterval time.Duration
	// Wakeups, when set, wakes blocked receivers as soon as a Send lands on this queue.
	Wakeups job.Wakeups

	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobQueueRepo is a Postgres-backed at-least-once queue with visibility leases.
type JobQueueRepo struct {
	DB             *sql.DB
	name           string
	lease          time.Duration
	receiveTimeout time.Duration
	pollInterval   time.Duration
	wakeups        job.Wakeups
	timeProvider   TimeProvider
	logger         *slog.Logger
}

// NewJobQueueRepo creates a new JobQueueRepo.
func NewJobQueueRepo(db *sql.DB, cfg QueueConfig) *JobQueueRepo {
	rc := RepoConfig{Logger: cfg.Logger, TimeProvider: cfg.TimeProvider}
	r := &JobQueueRepo{
		DB:             db,
		name:           cfg.Name,
		lease:          cfg.LeaseDuration,
		receiveTimeout: cfg.ReceiveTimeout,
		pollInterval:   cfg.PollInterval,
		wakeups:        cfg.Wakeups,
		timeProvider:   rc.timeProvider(),
		logger:         rc.logger(),
	}
	if r.name == "" {
		r.name = defaultQueueName
	}
	if r.lease <= 0 {
		r.lease = defaultLeaseDuration
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	return r
}

// Name returns the logical queue name.
func (r *JobQueueRepo) Name() string { return r.name }

// Send enqueues a job key and notifies listeners on the queue channel.
func (r *JobQueueRepo) Send(ctx context.Context, jobKey, serverJobID string) error {
	if jobKey == "" {
		return apperrors.InvalidField("job_key", ErrJobKeyRequired.Error())
	}
	if serverJobID == "" {
		return apperrors.InvalidField("server_job_id", ErrServerJobIDRequired.Error())
	}

	now := r.timeProvider.Now().UTC()
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `
				INSERT INTO job_queue (id, queue_name, job_key, server_job_id, visible_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $5)
			`, uuid.NewString(), r.name, jobKey, serverJobID, now); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", r.channel(), jobKey)
			return err
		},
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeQueue, "send %s to queue %s", jobKey, r.name)
	}
	return nil
}

// Receive leases the oldest visible item. It waits up to the configured receive timeout and
// returns nil, nil when nothing became visible.
func (r *JobQueueRepo) Receive(ctx context.Context) (*model.JobQueueItem, error) {
	deadline := time.Now().Add(r.receiveTimeout)

	var wake <-chan struct{}
	if r.wakeups != nil && r.receiveTimeout > 0 {
		unsubscribe, ch := r.wakeups.Subscribe(r.name)
		defer unsubscribe()
		wake = ch
	}

	for {
		item, err := r.reserveNext(ctx)
		if err != nil || item != nil {
			return item, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		open, waitErr := wait(ctx, wake, min(remaining, r.pollInterval))
		if waitErr != nil {
			return nil, waitErr
		}
		if !open {
			wake = nil
		}
	}
}

// wait sleeps for d or until a wakeup arrives. It reports false once wake has been closed.
func wait(ctx context.Context, wake <-chan struct{}, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true, apperrors.MapDBError(ctx.Err())
	case _, ok := <-wake:
		return ok, nil
	case <-timer.C:
		return true, nil
	}
}

const reserveNextSQL = `
WITH next AS (
  SELECT id
  FROM job_queue
  WHERE queue_name = $1
    AND visible_at <= $2
  ORDER BY visible_at, created_at
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE job_queue q
SET receipt_token = $3,
    visible_at = $4,
    received_at = $2,
    receive_count = q.receive_count + 1
FROM next
WHERE q.id = next.id
RETURNING q.id, q.job_key, q.server_job_id, q.receipt_token, q.visible_at, q.received_at, q.receive_count
`

func (r *JobQueueRepo) reserveNext(ctx context.Context) (*model.JobQueueItem, error) {
	now := r.timeProvider.Now().UTC()
	receipt := uuid.NewString()

	var item model.JobQueueItem
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, reserveNextSQL, r.name, now, receipt, now.Add(r.lease)).Scan(
			&item.ID,
			&item.JobKey,
			&item.ServerJobID,
			&item.ReceiptToken,
			&item.LeaseExpiresAt,
			&item.ReceivedAt,
			&item.ReceiveCount,
		)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeQueue, "receive from queue %s", r.name)
	}
	item.LeaseExpiresAt = item.LeaseExpiresAt.UTC()
	item.ReceivedAt = item.ReceivedAt.UTC()
	return &item, nil
}

// Acknowledge permanently removes the item. It fails with a stale receipt error when the
// receipt no longer owns the item.
func (r *JobQueueRepo) Acknowledge(ctx context.Context, item model.JobQueueItem) error {
	if item.ReceiptToken == "" {
		return apperrors.InvalidField("receipt_token", ErrReceiptRequired.Error())
	}

	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			DELETE FROM job_queue
			WHERE id = $1 AND receipt_token = $2
		`, item.ID, item.ReceiptToken)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeQueue, "acknowledge %s", item.JobKey)
	}
	if affected == 0 {
		return apperrors.StaleReceipt("acknowledge " + item.JobKey)
	}
	return nil
}

// ExtendLease moves the item's visibility deadline to now+extra. The receipt must still hold
// an unexpired lease.
func (r *JobQueueRepo) ExtendLease(ctx context.Context, item model.JobQueueItem, extra time.Duration) error {
	if item.ReceiptToken == "" {
		return apperrors.InvalidField("receipt_token", ErrReceiptRequired.Error())
	}
	if extra < 0 {
		extra = 0
	}

	now := r.timeProvider.Now().UTC()
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE job_queue
			SET visible_at = $3
			WHERE id = $1
			  AND receipt_token = $2
			  AND visible_at > $4
		`, item.ID, item.ReceiptToken, now.Add(extra), now)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeQueue, "extend lease for %s", item.JobKey)
	}
	if affected == 0 {
		return apperrors.StaleReceipt("extend lease for " + item.JobKey)
	}
	return nil
}

// Depth returns the number of items on the queue, leased or not.
func (r *JobQueueRepo) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `SELECT count(*) FROM job_queue WHERE queue_name = $1`, r.name).Scan(&n)
	})
	if err != nil {
		return 0, apperrors.Wrapf(err, apperrors.ErrCodeQueue, "count queue %s", r.name)
	}
	return n, nil
}

func (r *JobQueueRepo) channel() string {
	return queueNotifyChanPrefix + r.name
}

// WaitForSend blocks until a Send on the named queue is observed via LISTEN/NOTIFY.
func (r *JobQueueRepo) WaitForSend(ctx context.Context, queue string) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Debug("release listen connection", "queue", queue, "error", cerr)
		}
	}()

	channel := queueNotifyChanPrefix + queue
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			r.logger.Debug("unlisten", "channel", channel, "error", execErr)
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
