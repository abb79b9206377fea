package protocol

import (
	"context"
	"time"

	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/streams"
	"golang.org/x/sync/errgroup"
)

// manageLegacyOutgoing runs the V0 loops on a connection we dialed: data
// flows only towards the peer, which keeps the connection alive with
// heartbeats.
func manageLegacyOutgoing(ctx context.Context, sender *streams.Sender, receiver *streams.Receiver, rx unbounded.Receiver[[]byte], ch Channels) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = sender.Close() })
	defer stop()

	g.Go(func() error { return sending(gctx, sender, rx, ch, V0, false) })
	g.Go(func() error { return heartbeatReceiver(gctx, receiver) })
	return g.Wait()
}

// manageLegacyIncoming runs the V0 loops on a connection the peer dialed:
// data flows only from the peer and we send heartbeats back. It exits when
// the service closes the link.
func manageLegacyIncoming(ctx context.Context, sender *streams.Sender, receiver *streams.Receiver, ch Channels) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = sender.Close() })
	defer stop()

	g.Go(func() error { return receiving(gctx, receiver, ch, V0, false) })
	g.Go(func() error { return heartbeatSender(gctx, sender) })
	return g.Wait()
}

// heartbeatSender sends a heartbeat every interval until sending fails.
func heartbeatSender(ctx context.Context, sender *streams.Sender) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		if err := sender.Send(&Message{Kind: MessageHeartbeat}, heartbeatTimeout()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrCardiacArrest
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// heartbeatReceiver consumes messages until the peer stays silent for too
// long or the connection breaks.
func heartbeatReceiver(ctx context.Context, receiver *streams.Receiver) error {
	for {
		var msg Message
		if err := receiver.Receive(&msg, heartbeatTimeout()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrCardiacArrest
		}
	}
}
