package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports"
)

var (
	ErrQueueFull   = errors.New("notify: queue full")
	ErrQueueClosed = errors.New("notify: queue closed")
)

// Queue decouples Enqueue from delivery. Enqueue never blocks: when the
// buffer is full the notification is refused with ErrQueueFull. Run drains
// the buffer into the downstream notifier until ctx is cancelled. Once Run
// has started draining, Enqueue refuses with ErrQueueClosed.
type Queue struct {
	next   ports.Notifier
	inbox  chan models.Notification
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewQueue(next ports.Notifier, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{next: next, inbox: make(chan models.Notification, size), logger: logger}
}

func (q *Queue) Enqueue(_ context.Context, n models.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.inbox <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) Len() int { return len(q.inbox) }

func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.close()
			q.drain()
			return ctx.Err()
		case n := <-q.inbox:
			q.deliver(ctx, n)
		}
	}
}

// close holds the write lock so no Enqueue is mid-send once it returns.
func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// drain hands off what is already buffered so a shutdown loses nothing
// that was accepted.
func (q *Queue) drain() {
	ctx := context.Background()
	for {
		select {
		case n := <-q.inbox:
			q.deliver(ctx, n)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, n models.Notification) {
	if err := q.next.Enqueue(ctx, n); err != nil {
		q.logger.WarnContext(ctx, "notification dropped",
			"user_id", n.UserID.String(),
			"kind", n.Kind,
			"error", err,
		)
	}
}
