package connection

import (
	"context"

	"github.com/blockberries/clique/internal/unbounded"
)

// Link is the service's handle on a running connection worker: a queue
// of outbound data plus the means to stop the worker.
//
// Link is safe for concurrent use.
type Link struct {
	data   unbounded.Sender[[]byte]
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLink creates a link for a worker running under parent. The worker
// consumes the returned receiver and must stop once the returned context
// is done.
func NewLink(parent context.Context) (*Link, unbounded.Receiver[[]byte], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	tx, rx := unbounded.New[[]byte]()
	return &Link{data: tx, ctx: ctx, cancel: cancel}, rx, ctx
}

// Send queues data for the worker without blocking.
func (l *Link) Send(data []byte) error {
	if l.ctx.Err() != nil {
		return ErrConnectionClosed
	}
	if err := l.data.Send(data); err != nil {
		return ErrConnectionClosed
	}
	return nil
}

// Close stops the worker. It is idempotent.
func (l *Link) Close() {
	l.cancel()
	l.data.Close()
}

// IsClosed reports whether the link can no longer deliver data.
func (l *Link) IsClosed() bool {
	return l.ctx.Err() != nil || l.data.IsClosed()
}

// Done is closed once the link has been closed or its parent context ended.
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}
