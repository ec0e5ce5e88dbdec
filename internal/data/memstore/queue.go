package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/aggregation-worker/internal/data"
	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// QueueOptions configures a JobQueue.
type QueueOptions struct {
	LeaseDuration  time.Duration
	ReceiveTimeout time.Duration
	PollInterval   time.Duration
	Clock          data.TimeProvider
}

type queueEntry struct {
	id           string
	jobKey       string
	serverJobID  string
	receipt      string
	visibleAt    time.Time
	receivedAt   time.Time
	receiveCount int
	seq          uint64
}

// JobQueue is an in-process core.JobQueue with visibility leases. Lease expiry is evaluated
// against the injected clock so tests can expire leases without sleeping.
type JobQueue struct {
	mu      sync.Mutex
	entries []*queueEntry
	nextSeq uint64

	lease          time.Duration
	receiveTimeout time.Duration
	pollInterval   time.Duration
	clock          data.TimeProvider
	signal         chan struct{}
}

// NewJobQueue creates an empty queue.
func NewJobQueue(opts QueueOptions) *JobQueue {
	q := &JobQueue{
		lease:          opts.LeaseDuration,
		receiveTimeout: opts.ReceiveTimeout,
		pollInterval:   opts.PollInterval,
		clock:          opts.Clock,
		signal:         make(chan struct{}, 1),
	}
	if q.lease <= 0 {
		q.lease = 5 * time.Minute
	}
	if q.pollInterval <= 0 {
		q.pollInterval = 50 * time.Millisecond
	}
	if q.clock == nil {
		q.clock = data.RealTimeProvider{}
	}
	return q
}

// Send appends an item that is immediately visible.
func (q *JobQueue) Send(_ context.Context, jobKey, serverJobID string) error {
	if jobKey == "" {
		return apperrors.InvalidField("job_key", data.ErrJobKeyRequired.Error())
	}
	q.mu.Lock()
	q.nextSeq++
	q.entries = append(q.entries, &queueEntry{
		id:          uuid.NewString(),
		jobKey:      jobKey,
		serverJobID: serverJobID,
		visibleAt:   q.clock.Now(),
		seq:         q.nextSeq,
	})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Receive leases the visible item with the earliest visibility time.
func (q *JobQueue) Receive(ctx context.Context) (*model.JobQueueItem, error) {
	deadline := time.Now().Add(q.receiveTimeout)
	for {
		if item := q.reserve(); item != nil {
			return item, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(remaining, q.pollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "receive canceled")
		case <-q.signal:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (q *JobQueue) reserve() *model.JobQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var pick *queueEntry
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			continue
		}
		if pick == nil || e.visibleAt.Before(pick.visibleAt) ||
			(e.visibleAt.Equal(pick.visibleAt) && e.seq < pick.seq) {
			pick = e
		}
	}
	if pick == nil {
		return nil
	}

	pick.receipt = uuid.NewString()
	pick.visibleAt = now.Add(q.lease)
	pick.receivedAt = now
	pick.receiveCount++
	return &model.JobQueueItem{
		ID:             pick.id,
		JobKey:         pick.jobKey,
		ServerJobID:    pick.serverJobID,
		ReceiptToken:   pick.receipt,
		LeaseExpiresAt: pick.visibleAt,
		ReceivedAt:     pick.receivedAt,
		ReceiveCount:   pick.receiveCount,
	}
}

// Acknowledge removes the item if the receipt still owns it.
func (q *JobQueue) Acknowledge(_ context.Context, item model.JobQueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.id == item.ID && e.receipt == item.ReceiptToken && item.ReceiptToken != "" {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return apperrors.StaleReceipt("acknowledge " + item.JobKey)
}

// ExtendLease sets the visibility deadline to now+extra while the lease is still held.
func (q *JobQueue) ExtendLease(_ context.Context, item model.JobQueueItem, extra time.Duration) error {
	extra = max(extra, 0)
	q.mu.Lock()
	now := q.clock.Now()
	for _, e := range q.entries {
		if e.id != item.ID || e.receipt != item.ReceiptToken || item.ReceiptToken == "" {
			continue
		}
		if !e.visibleAt.After(now) {
			break
		}
		e.visibleAt = now.Add(extra)
		q.mu.Unlock()
		if extra == 0 {
			q.wake()
		}
		return nil
	}
	q.mu.Unlock()
	return apperrors.StaleReceipt("extend lease for " + item.JobKey)
}

// Len returns the number of items on the queue, leased or not.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *JobQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Depth returns the queue length in the shape the Postgres queue reports it.
func (q *JobQueue) Depth(context.Context) (int64, error) {
	return int64(q.Len()), nil
}
