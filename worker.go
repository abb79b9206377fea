package clique

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/protocol"
	"github.com/blockberries/clique/pkg/streams"
	"github.com/blockberries/clique/pkg/transport"
	"go.opentelemetry.io/otel/trace"
)

// Connection directions used in metric labels and span attributes.
const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

func (s *Service) channels() protocol.Channels {
	return protocol.Channels{
		Results: s.results.tx,
		Data:    s.data,
		Metrics: s.metrics,
	}
}

// finished reports whether a worker ended because it was told to rather
// than because something broke.
func finished(ctx context.Context, err error) bool {
	return err == nil ||
		ctx.Err() != nil ||
		errors.Is(err, protocol.ErrLinkClosed) ||
		errors.Is(err, protocol.ErrNoParentConnection)
}

// outgoing dials peer and manages the resulting connection. Any failure
// is reported to the service as a result without a link, so it can decide
// whether to try again.
func (s *Service) outgoing(ctx context.Context, peer crypto.PublicKey, addr transport.Address) {
	s.metrics.WorkerStarted(directionOutbound)
	defer s.metrics.WorkerStopped(directionOutbound)

	err := s.manageOutgoing(ctx, peer, addr)
	if finished(ctx, err) {
		return
	}
	cErr := NewPeerError(classify(err), "outgoing connection failed", peer, err)
	s.logger.Info("outgoing connection failed",
		"peer", peer.ShortString(),
		"address", addr.String(),
		"code", cErr.Code.String(),
		"error", cErr,
	)
	// A failure is always reported as New: the protocol used by the peer
	// was never learned.
	if err := s.results.tx.Send(protocol.Result{PeerID: peer, Type: protocol.New}); err != nil {
		s.logger.Debug("could not report failure, service terminated", "peer", peer.ShortString())
	}
}

func (s *Service) manageOutgoing(ctx context.Context, peer crypto.PublicKey, addr transport.Address) error {
	s.logger.Debug("trying to connect", "peer", peer.ShortString(), "address", addr.String())

	conn, version, sender, receiver, err := s.establishOutgoing(ctx, peer, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.Debug("negotiated protocol, running", "peer", peer.ShortString(), "protocol", version.String())
	s.metrics.ConnectionOpened(directionOutbound, version.String())
	defer s.metrics.ConnectionClosed(directionOutbound, version.String())
	return protocol.RunOutgoing(ctx, version, sender, receiver, peer, s.channels())
}

// establishOutgoing runs dial, negotiation and handshake under a single
// connect span. On error the connection is already closed.
func (s *Service) establishOutgoing(ctx context.Context, peer crypto.PublicKey, addr transport.Address) (conn net.Conn, version protocol.Protocol, sender *streams.Sender, receiver *streams.Receiver, err error) {
	tracer := s.cfg.Tracer
	ctx, span := tracer.StartConnect(ctx, directionOutbound)
	tracer.SetPeer(span, peer)
	defer func() { tracer.EndSpan(span, err) }()

	dialed, err := s.dial(ctx, peer, addr)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	defer func() {
		if err != nil {
			_ = dialed.Close()
		}
	}()

	version, err = s.negotiate(ctx, dialed)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	tracer.SetProtocol(span, version.String())

	hsCtx, hsSpan := tracer.StartHandshake(ctx, version.String())
	start := s.cfg.Clock.Now()
	sender, receiver, err = protocol.HandshakeInitiator(hsCtx, streams.NewConn(dialed), s.signer, peer)
	s.recordHandshake(hsSpan, start, err)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	return dialed, version, sender, receiver, nil
}

func (s *Service) dial(ctx context.Context, peer crypto.PublicKey, addr transport.Address) (net.Conn, error) {
	ctx, span := s.cfg.Tracer.StartDial(ctx, peer, addr.String())
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(dialCtx, addr)
	if err != nil && ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: timed out after %s: %w", ErrDialFailed, s.cfg.DialTimeout, err)
	} else if err != nil {
		err = fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	s.cfg.Tracer.EndSpan(span, err)

	if err != nil {
		s.metrics.ConnectionAttempt(directionOutbound, "failure")
		return nil, err
	}
	s.metrics.ConnectionAttempt(directionOutbound, "success")
	return conn, nil
}

func (s *Service) negotiate(ctx context.Context, conn net.Conn) (protocol.Protocol, error) {
	ctx, span := s.cfg.Tracer.StartNegotiate(ctx)
	version, err := protocol.Negotiate(ctx, conn, protocol.SupportedRange())
	s.cfg.Tracer.EndSpan(span, err)
	if err != nil {
		s.metrics.NegotiationResult(negotiationLabel(err))
		return 0, err
	}
	s.metrics.NegotiationResult(version.String())
	return version, nil
}

func negotiationLabel(err error) string {
	switch {
	case errors.Is(err, protocol.ErrProtocolMismatch):
		return "mismatch"
	case errors.Is(err, protocol.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, protocol.ErrBadChoice):
		return "bad_choice"
	case errors.Is(err, protocol.ErrTimedOut):
		return "timeout"
	default:
		return "closed"
	}
}

func handshakeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, protocol.ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, protocol.ErrHandshakeTimedOut):
		return "timeout"
	default:
		return "failure"
	}
}

func (s *Service) recordHandshake(span trace.Span, start time.Time, err error) {
	result := handshakeLabel(err)
	s.cfg.Tracer.RecordHandshakeResult(span, result, err)
	span.End()
	s.metrics.HandshakeResult(result)
	if err == nil {
		s.metrics.HandshakeDuration(s.cfg.Clock.Since(start).Seconds())
	}
}

// incoming manages a connection accepted by the listener. Failures are
// only logged; the dialing side is responsible for trying again.
func (s *Service) incoming(ctx context.Context, conn net.Conn) {
	s.metrics.WorkerStarted(directionInbound)
	defer s.metrics.WorkerStopped(directionInbound)
	defer conn.Close()

	peer, err := s.manageIncoming(ctx, conn)
	if finished(ctx, err) {
		return
	}
	cErr := NewPeerError(classify(err), "incoming connection failed", peer, err)
	s.logger.Info("incoming connection failed",
		"peer", peer.ShortString(),
		"remote", conn.RemoteAddr().String(),
		"code", cErr.Code.String(),
		"error", cErr,
	)
}

func (s *Service) manageIncoming(ctx context.Context, conn net.Conn) (crypto.PublicKey, error) {
	s.logger.Debug("performing incoming protocol negotiation", "remote", conn.RemoteAddr().String())

	peer, version, sender, receiver, err := s.establishIncoming(ctx, conn)
	if err != nil {
		return peer, err
	}

	s.logger.Debug("negotiated protocol, running", "peer", peer.ShortString(), "protocol", version.String())
	s.metrics.ConnectionOpened(directionInbound, version.String())
	defer s.metrics.ConnectionClosed(directionInbound, version.String())
	return peer, protocol.RunIncoming(ctx, version, sender, receiver, peer, s.channels())
}

// establishIncoming runs negotiation, handshake and authorization under a
// single connect span.
func (s *Service) establishIncoming(ctx context.Context, conn net.Conn) (peer crypto.PublicKey, version protocol.Protocol, sender *streams.Sender, receiver *streams.Receiver, err error) {
	tracer := s.cfg.Tracer
	ctx, span := tracer.StartConnect(ctx, directionInbound)
	defer func() { tracer.EndSpan(span, err) }()

	version, err = s.negotiate(ctx, conn)
	if err != nil {
		return peer, 0, nil, nil, err
	}
	tracer.SetProtocol(span, version.String())

	hsCtx, hsSpan := tracer.StartHandshake(ctx, version.String())
	start := s.cfg.Clock.Now()
	sender, receiver, peer, err = protocol.HandshakeResponder(hsCtx, streams.NewConn(conn), s.signer)
	if err == nil {
		tracer.SetPeer(span, peer)
		err = s.authorize(hsCtx, peer)
	}
	s.recordHandshake(hsSpan, start, err)
	if err != nil {
		return peer, 0, nil, nil, err
	}
	return peer, version, sender, receiver, nil
}

// authorize asks the service loop whether peer is wanted.
func (s *Service) authorize(ctx context.Context, peer crypto.PublicKey) error {
	reply := make(chan bool, 1)
	if err := s.auth.tx.Send(authRequest{peer: peer, reply: reply}); err != nil {
		return protocol.ErrNoParentConnection
	}
	select {
	case ok := <-reply:
		if !ok {
			return fmt.Errorf("%w: %s", protocol.ErrNotAuthorized, peer.ShortString())
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
