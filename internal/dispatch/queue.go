package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/streamvoice/live-dialog-service/internal/segment"
)

var (
	// ErrQueueFull is returned when a final utterance cannot be enqueued
	// within the submit timeout.
	ErrQueueFull = errors.New("dispatch queue is full")

	// ErrQueueClosed is returned by Pop once the queue is closed and drained.
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

// Queue is a bounded utterance queue between the segmenter and the worker
// pool. The audio path must never stall, so submitting a partial always
// returns immediately: when the queue is full the oldest pending partial is
// evicted to make room (or the new partial itself is dropped if only finals
// are pending). Finals carry audio that will never be re-emitted, so a final
// submit blocks up to the submit timeout before giving up.
type Queue struct {
	capacity      int
	submitTimeout time.Duration

	mu     sync.Mutex
	items  []*segment.Utterance
	closed bool

	notEmpty chan struct{}
	notFull  chan struct{}

	// Statistics
	submitted       uint64
	droppedPartials uint64
	rejectedFinals  uint64
	maxDepth        int
}

// QueueStats represents queue statistics.
type QueueStats struct {
	Depth           int    `json:"depth"`
	Capacity        int    `json:"capacity"`
	Submitted       uint64 `json:"submitted"`
	DroppedPartials uint64 `json:"dropped_partials"`
	RejectedFinals  uint64 `json:"rejected_finals"`
	MaxDepth        int    `json:"max_depth"`
}

// NewQueue creates a bounded queue with the given capacity.
func NewQueue(capacity int, submitTimeout time.Duration) (*Queue, error) {
	if capacity <= 0 {
		return nil, errors.New("queue capacity must be positive")
	}
	if submitTimeout <= 0 {
		submitTimeout = 5 * time.Second
	}

	return &Queue{
		capacity:      capacity,
		submitTimeout: submitTimeout,
		items:         make([]*segment.Utterance, 0, capacity),
		notEmpty:      make(chan struct{}, 1),
		notFull:       make(chan struct{}, 1),
	}, nil
}

// Submit enqueues an utterance. Partial submissions never block; final
// submissions block up to the submit timeout and return ErrQueueFull if the
// queue could not accept the utterance in time.
func (q *Queue) Submit(ctx context.Context, u *segment.Utterance) error {
	if u.IsFinal {
		return q.submitFinal(ctx, u)
	}
	return q.submitPartial(u)
}

func (q *Queue) submitPartial(u *segment.Utterance) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items) >= q.capacity {
		// Evict the oldest pending partial. If everything pending is
		// final, the incoming partial is the least valuable item.
		evicted := false
		for i, pending := range q.items {
			if !pending.IsFinal {
				q.items = append(q.items[:i], q.items[i+1:]...)
				evicted = true
				break
			}
		}
		q.droppedPartials++
		if !evicted {
			return nil
		}
	}

	q.enqueueLocked(u)
	return nil
}

func (q *Queue) submitFinal(ctx context.Context, u *segment.Utterance) error {
	deadline := time.NewTimer(q.submitTimeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.items) < q.capacity {
			q.enqueueLocked(u)
			spare := len(q.items) < q.capacity
			q.mu.Unlock()
			if spare {
				// Same coalescing hazard on the producer side: keep waking
				// blocked finals while capacity remains.
				q.signal(q.notFull)
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-deadline.C:
			q.mu.Lock()
			q.rejectedFinals++
			q.mu.Unlock()
			return ErrQueueFull
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) enqueueLocked(u *segment.Utterance) {
	q.items = append(q.items, u)
	q.submitted++
	if len(q.items) > q.maxDepth {
		q.maxDepth = len(q.items)
	}
	q.signal(q.notEmpty)
}

// Pop removes and returns the oldest utterance, blocking until one is
// available, the context is cancelled, or the queue is closed and drained.
func (q *Queue) Pop(ctx context.Context) (*segment.Utterance, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			q.signal(q.notFull)
			if remaining > 0 {
				// The 1-slot signal coalesces back-to-back submits; pass the
				// wakeup on so another waiter is not stranded with items
				// still queued.
				q.signal(q.notEmpty)
			}
			return u, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close marks the queue closed. Pending utterances remain poppable so workers
// can drain them before shutting down.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal(q.notEmpty)
	q.signal(q.notFull)
}

// Depth returns the current number of pending utterances.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Depth:           len(q.items),
		Capacity:        q.capacity,
		Submitted:       q.submitted,
		DroppedPartials: q.droppedPartials,
		RejectedFinals:  q.rejectedFinals,
		MaxDepth:        q.maxDepth,
	}
}

func (q *Queue) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
