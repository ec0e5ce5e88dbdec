package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrListenerRequired is returned by NewQueueWakeups without a SendListener.
var ErrListenerRequired = errors.New("queue wakeups need a send listener")

// SendListener blocks until a Send on queue is observed, or ctx ends.
type SendListener interface {
	WaitForSend(ctx context.Context, queue string) error
}

// Wakeups lets receivers parked in a receive poll hear about new sends on their queue
// before the poll interval elapses.
type Wakeups interface {
	Subscribe(queue string) (unsubscribe func(), wake <-chan struct{})
	StopAll()
}

// WakeupOptions configure QueueWakeups.
type WakeupOptions struct {
	Listener SendListener
	// ListenWindow bounds one LISTEN round. Defaults to a minute.
	ListenWindow time.Duration
	// RetryBackoff is the pause after a failed round. Defaults to 250ms.
	RetryBackoff time.Duration
}

// QueueWakeups runs one listen loop per queue name with subscribers and fans every observed
// send out to them. Wake channels hold one pending signal, so bursts of sends coalesce.
type QueueWakeups struct {
	listener SendListener
	window   time.Duration
	backoff  time.Duration

	mu     sync.Mutex
	queues map[string]*queueWatch
}

type queueWatch struct {
	stop    context.CancelFunc
	waiters map[chan struct{}]struct{}
}

// NewQueueWakeups returns wakeups driven by opts.Listener.
func NewQueueWakeups(opts WakeupOptions) (*QueueWakeups, error) {
	if opts.Listener == nil {
		return nil, ErrListenerRequired
	}
	w := &QueueWakeups{
		listener: opts.Listener,
		window:   opts.ListenWindow,
		backoff:  opts.RetryBackoff,
		queues:   make(map[string]*queueWatch),
	}
	if w.window <= 0 {
		w.window = time.Minute
	}
	if w.backoff <= 0 {
		w.backoff = 250 * time.Millisecond
	}
	return w, nil
}

// Subscribe registers a receiver on queue, starting its listen loop if this is the first.
// unsubscribe closes wake and stops the loop once the last receiver leaves; calling it
// again is a no-op.
func (w *QueueWakeups) Subscribe(queue string) (func(), <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	watch, ok := w.queues[queue]
	if !ok {
		ctx, stop := context.WithCancel(context.Background())
		watch = &queueWatch{stop: stop, waiters: make(map[chan struct{}]struct{})}
		w.queues[queue] = watch
		go w.listen(ctx, queue)
	}

	wake := make(chan struct{}, 1)
	watch.waiters[wake] = struct{}{}

	return func() { w.leave(queue, watch, wake) }, wake
}

func (w *QueueWakeups) leave(queue string, watch *queueWatch, wake chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := watch.waiters[wake]; !ok {
		return
	}
	delete(watch.waiters, wake)
	closeWake(wake)
	if len(watch.waiters) == 0 && w.queues[queue] == watch {
		watch.stop()
		delete(w.queues, queue)
	}
}

// StopAll ends every listen loop and closes every wake channel.
func (w *QueueWakeups) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for queue, watch := range w.queues {
		watch.stop()
		for wake := range watch.waiters {
			delete(watch.waiters, wake)
			closeWake(wake)
		}
		delete(w.queues, queue)
	}
}

func (w *QueueWakeups) listen(ctx context.Context, queue string) {
	for ctx.Err() == nil {
		roundCtx, cancel := context.WithTimeout(ctx, w.window)
		err := w.listener.WaitForSend(roundCtx, queue)
		cancel()

		// Timeouts and failures wake receivers too; they re-poll the table.
		w.wake(queue)

		if err == nil || ctx.Err() != nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.backoff):
		}
	}
}

func (w *QueueWakeups) wake(queue string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	watch, ok := w.queues[queue]
	if !ok {
		return
	}
	for wake := range watch.waiters {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// closeWake drops a pending signal first so the receiver sees the close on its next read.
func closeWake(wake chan struct{}) {
	select {
	case <-wake:
	default:
	}
	close(wake)
}

var _ Wakeups = (*QueueWakeups)(nil)
