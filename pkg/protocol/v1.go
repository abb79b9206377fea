package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/connection"
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/streams"
	"golang.org/x/sync/errgroup"
)

// RunOutgoing reports an established connection we dialed to the service
// and manages it until it breaks or the service closes its link.
func RunOutgoing(ctx context.Context, version Protocol, sender *streams.Sender, receiver *streams.Receiver, peer crypto.PublicKey, ch Channels) error {
	switch version {
	case V1:
		return run(ctx, peer, New, sender, ch, func(linkCtx context.Context, rx unbounded.Receiver[[]byte]) error {
			return manageConnection(linkCtx, sender, receiver, rx, ch)
		})
	case V0:
		return run(ctx, peer, LegacyOutgoing, sender, ch, func(linkCtx context.Context, rx unbounded.Receiver[[]byte]) error {
			return manageLegacyOutgoing(linkCtx, sender, receiver, rx, ch)
		})
	default:
		return &BadChoiceError{Version: uint32(version)}
	}
}

// RunIncoming reports an established connection the peer dialed to the
// service and manages it until it breaks or the service closes its link.
func RunIncoming(ctx context.Context, version Protocol, sender *streams.Sender, receiver *streams.Receiver, peer crypto.PublicKey, ch Channels) error {
	switch version {
	case V1:
		return run(ctx, peer, New, sender, ch, func(linkCtx context.Context, rx unbounded.Receiver[[]byte]) error {
			return manageConnection(linkCtx, sender, receiver, rx, ch)
		})
	case V0:
		return run(ctx, peer, LegacyIncoming, sender, ch, func(linkCtx context.Context, rx unbounded.Receiver[[]byte]) error {
			return manageLegacyIncoming(linkCtx, sender, receiver, ch)
		})
	default:
		return &BadChoiceError{Version: uint32(version)}
	}
}

func run(ctx context.Context, peer crypto.PublicKey, kind ConnectionType, conn io.Closer, ch Channels, manage func(context.Context, unbounded.Receiver[[]byte]) error) error {
	link, rx, linkCtx := connection.NewLink(ctx)
	defer link.Close()
	stop := context.AfterFunc(linkCtx, func() { _ = conn.Close() })
	defer stop()

	if err := ch.Results.Send(Result{PeerID: peer, Link: link, Type: kind}); err != nil {
		return ErrNoParentConnection
	}

	err := manage(linkCtx, rx)
	if linkCtx.Err() != nil {
		return ErrLinkClosed
	}
	return err
}

// manageConnection runs the V1 loops. Both ends send and receive data and
// an idle sender emits heartbeats.
func manageConnection(ctx context.Context, sender *streams.Sender, receiver *streams.Receiver, rx unbounded.Receiver[[]byte], ch Channels) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = sender.Close() })
	defer stop()

	g.Go(func() error { return sending(gctx, sender, rx, ch, V1, true) })
	g.Go(func() error { return receiving(gctx, receiver, ch, V1, true) })
	return g.Wait()
}

// sending forwards queued data to the peer. With heartbeats enabled an
// idle interval produces a heartbeat instead.
func sending(ctx context.Context, sender *streams.Sender, rx unbounded.Receiver[[]byte], ch Channels, version Protocol, heartbeats bool) error {
	metrics := ch.metrics()
	for {
		msg, err := nextMessage(ctx, rx, heartbeats)
		if err != nil {
			return err
		}
		if err := sender.Send(msg, heartbeatTimeout()); err != nil {
			if errors.Is(err, streams.ErrTimedOut) {
				return fmt.Errorf("%w: %w", ErrSendTimeout, err)
			}
			return err
		}
		if msg.Kind == MessageData {
			metrics.MessageSent(version.String(), len(msg.Payload))
		}
	}
}

func nextMessage(ctx context.Context, rx unbounded.Receiver[[]byte], heartbeats bool) (*Message, error) {
	recvCtx, cancel := ctx, context.CancelFunc(func() {})
	if heartbeats {
		recvCtx, cancel = context.WithTimeout(ctx, heartbeatInterval)
	}
	defer cancel()

	data, err := rx.Recv(recvCtx)
	switch {
	case err == nil:
		return &Message{Kind: MessageData, Payload: data}, nil
	case errors.Is(err, io.EOF):
		return nil, ErrLinkClosed
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return &Message{Kind: MessageHeartbeat}, nil
	default:
		return nil, err
	}
}

// receiving forwards data from the peer to the user. With a heartbeat
// deadline, silence longer than the allowed missed heartbeats is fatal.
func receiving(ctx context.Context, receiver *streams.Receiver, ch Channels, version Protocol, expectHeartbeats bool) error {
	metrics := ch.metrics()
	var timeout = heartbeatTimeout()
	if !expectHeartbeats {
		timeout = 0
	}
	for {
		var msg Message
		if err := receiver.Receive(&msg, timeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, streams.ErrTimedOut) {
				return ErrCardiacArrest
			}
			return err
		}
		if msg.Kind != MessageData {
			continue
		}
		metrics.MessageReceived(version.String(), len(msg.Payload))
		if err := ch.Data.Send(msg.Payload); err != nil {
			return ErrNoUserConnection
		}
	}
}
