// Package unbounded provides a multi-producer single-consumer queue that
// never blocks the sender.
//
// The connection layer routes every byte slice and every command through
// these queues: senders must never stall on a slow peer, so memory is
// traded for liveness.
package unbounded

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send when the queue has been closed by either end.
var ErrClosed = errors.New("unbounded: queue closed")

type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

// Sender is the producing end of a queue. Senders are cheap to copy and
// safe for concurrent use.
type Sender[T any] struct {
	q *queue[T]
}

// Receiver is the consuming end of a queue. It must be used from a single
// goroutine.
type Receiver[T any] struct {
	q *queue[T]
}

// New creates a queue and returns both of its ends.
func New[T any]() (Sender[T], Receiver[T]) {
	q := &queue[T]{notify: make(chan struct{}, 1)}
	return Sender[T]{q: q}, Receiver[T]{q: q}
}

// Send appends an item to the queue. It returns ErrClosed once either end
// has closed the queue.
func (s Sender[T]) Send(item T) error {
	if s.q == nil {
		return ErrClosed
	}
	s.q.mu.Lock()
	if s.q.closed {
		s.q.mu.Unlock()
		return ErrClosed
	}
	s.q.items = append(s.q.items, item)
	s.q.mu.Unlock()
	s.q.wake()
	return nil
}

// Close marks the queue as finished. Items already queued can still be
// received. Close is idempotent.
func (s Sender[T]) Close() {
	if s.q != nil {
		s.q.close(false)
	}
}

// IsClosed reports whether the queue no longer accepts items.
func (s Sender[T]) IsClosed() bool {
	if s.q == nil {
		return true
	}
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.q.closed
}

// Ready returns a channel that is signalled whenever items may be
// available or the queue was closed. Callers select on it and then call
// TryRecv until it reports nothing.
func (r Receiver[T]) Ready() <-chan struct{} {
	return r.q.notify
}

// TryRecv pops the oldest item without blocking. The second result is false
// when the queue is empty; the third is true when the queue is also closed.
func (r Receiver[T]) TryRecv() (item T, ok bool, closed bool) {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	if len(r.q.items) == 0 {
		return item, false, r.q.closed
	}
	item = r.q.items[0]
	var zero T
	r.q.items[0] = zero
	r.q.items = r.q.items[1:]
	if len(r.q.items) == 0 {
		r.q.items = nil
	}
	return item, true, false
}

// Recv blocks until an item is available, the queue is closed and drained
// (io.EOF) or ctx is done.
func (r Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		item, ok, closed := r.TryRecv()
		if ok {
			return item, nil
		}
		if closed {
			var zero T
			return zero, io.EOF
		}
		select {
		case <-r.q.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (r Receiver[T]) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// Close drops the receiving end: pending items are discarded and further
// sends fail.
func (r Receiver[T]) Close() {
	r.q.close(true)
}

func (q *queue[T]) close(discard bool) {
	q.mu.Lock()
	q.closed = true
	if discard {
		q.items = nil
	}
	q.mu.Unlock()
	q.wake()
}

func (q *queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
