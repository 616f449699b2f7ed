package engine

import (
	"context"
	"errors"
	"sync"

	"meridian/internal/domain"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// EventQueue is a bounded FIFO of events, safe for concurrent producers.
// It is the only channel between event producers and the dispatcher: in
// live mode the gateway callback thread pushes while the dispatcher pops,
// and that hand-off is the synchronization boundary for ledger reads.
type EventQueue struct {
	ch chan domain.Event

	mu     sync.RWMutex // guards closed and the send in Push against Close
	closed bool
}

// NewEventQueue allocates a queue with the given capacity.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventQueue{ch: make(chan domain.Event, capacity)}
}

// Push enqueues an event without blocking. A full queue is an error rather
// than a silent drop: losing an event would corrupt account state.
func (q *EventQueue) Push(e domain.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// TryPop dequeues the next event if one is ready. Used by the backtest loop
// to drain the queue completely between market-data batches.
func (q *EventQueue) TryPop() (domain.Event, bool) {
	select {
	case e, ok := <-q.ch:
		if !ok {
			return nil, false
		}
		return e, true
	default:
		return nil, false
	}
}

// Pop blocks until an event is available, the queue is closed, or the
// context is done.
func (q *EventQueue) Pop(ctx context.Context) (domain.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case e, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return e, nil
	}
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new events. Safe to call while
// producers are pushing, and safe to call more than once.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
