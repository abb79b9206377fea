package clique

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/connection"
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/protocol"
	"github.com/blockberries/clique/pkg/transport"
	"go.uber.org/multierr"
)

// acceptRetryDelay is the pause after a failed Accept before trying again.
const acceptRetryDelay = 100 * time.Millisecond

// pipe bundles both ends of an internal queue.
type pipe[T any] struct {
	tx unbounded.Sender[T]
	rx unbounded.Receiver[T]
}

func newPipe[T any]() pipe[T] {
	tx, rx := unbounded.New[T]()
	return pipe[T]{tx: tx, rx: rx}
}

type authRequest struct {
	peer  crypto.PublicKey
	reply chan bool
}

// Service keeps authenticated connections with a changing set of peers.
// A single goroutine, the one calling Run, owns all connection state;
// dialing, accepting and every connection run in goroutines of their own
// that talk to it through queues.
type Service struct {
	cfg      *Config
	logger   Logger
	metrics  Metrics
	dialer   Dialer
	listener Listener
	signer   crypto.Signer
	own      crypto.PublicKey

	manager     *connection.Manager
	backoff     *connection.Backoff
	retryTimers map[crypto.PublicKey]*clock.Timer

	commands unbounded.Receiver[command]
	data     unbounded.Sender[[]byte]
	results  pipe[protocol.Result]
	auth     pipe[authRequest]
	accepted pipe[net.Conn]
	retries  pipe[crypto.PublicKey]

	workers sync.WaitGroup
	done    chan struct{}
	running atomic.Bool
}

// NewService creates a service for the identity of signer together with
// the Interface used to control it. Nothing happens until Run is called.
func NewService(dialer Dialer, listener Listener, signer crypto.Signer, opts ...Option) (*Service, *Interface, error) {
	switch {
	case dialer == nil:
		return nil, nil, ErrMissingDialer
	case listener == nil:
		return nil, nil, ErrMissingListener
	case signer == nil:
		return nil, nil, ErrMissingSecretKey
	}

	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cfg.applyDefaults()

	commandsTx, commandsRx := unbounded.New[command]()
	dataTx, dataRx := unbounded.New[[]byte]()
	done := make(chan struct{})

	own := signer.PublicKey()
	s := &Service{
		cfg:         cfg,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		dialer:      dialer,
		listener:    listener,
		signer:      signer,
		own:         own,
		manager:     connection.NewManager(own),
		backoff:     connection.NewBackoff(connection.NewBackoffCalculator(cfg.RetryBaseDelay, cfg.RetryMaxDelay)),
		retryTimers: make(map[crypto.PublicKey]*clock.Timer),
		commands:    commandsRx,
		data:        dataTx,
		results:     newPipe[protocol.Result](),
		auth:        newPipe[authRequest](),
		accepted:    newPipe[net.Conn](),
		retries:     newPipe[crypto.PublicKey](),
		done:        done,
	}
	iface := &Interface{
		commands: commandsTx,
		data:     dataRx,
		done:     done,
		logger:   cfg.Logger,
	}
	return s, iface, nil
}

// PublicKey returns the identity of the service.
func (s *Service) PublicKey() crypto.PublicKey {
	return s.own
}

// Run serves connections until ctx is cancelled. On return the listener
// is closed, every connection has been torn down and Interface.Next
// reports io.EOF once the remaining messages are consumed.
//
// Run may only be called once.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServiceRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("clique service started", "peer", s.own.ShortString())

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ctx)
	}()

	ticker := s.cfg.Clock.Ticker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(cancel, acceptDone)

		case <-s.accepted.rx.Ready():
			for {
				conn, ok, _ := s.accepted.rx.TryRecv()
				if !ok {
					break
				}
				s.spawnIncoming(ctx, conn)
			}

		case <-s.commands.Ready():
			for {
				cmd, ok, _ := s.commands.TryRecv()
				if !ok {
					break
				}
				s.handleCommand(ctx, cmd)
			}

		case <-s.results.rx.Ready():
			for {
				res, ok, _ := s.results.rx.TryRecv()
				if !ok {
					break
				}
				s.handleResult(ctx, res)
			}

		case <-s.auth.rx.Ready():
			for {
				req, ok, _ := s.auth.rx.TryRecv()
				if !ok {
					break
				}
				req.reply <- s.manager.IsAuthorized(req.peer)
			}

		case <-s.retries.rx.Ready():
			for {
				peer, ok, _ := s.retries.rx.TryRecv()
				if !ok {
					break
				}
				delete(s.retryTimers, peer)
				if addr, ok := s.manager.PeerAddress(peer); ok {
					s.spawnOutgoing(ctx, peer, addr)
				}
			}

		case <-ticker.C:
			s.reportStatus()
		}
	}
}

func (s *Service) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Warn("listener closed, no longer accepting connections")
				return
			}
			s.logger.Warn("listener failed to accept connection", "error", err)
			s.metrics.ConnectionAttempt(directionInbound, "failure")
			select {
			case <-ctx.Done():
				return
			case <-s.cfg.Clock.After(acceptRetryDelay):
			}
			continue
		}
		s.metrics.ConnectionAttempt(directionInbound, "success")
		if err := s.accepted.tx.Send(conn); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func (s *Service) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdAddConnection:
		_, known := s.manager.Class(cmd.peer)
		weDial := s.manager.AddPeer(cmd.peer, cmd.address)
		if known {
			s.logger.Debug("updated peer address", "peer", cmd.peer.ShortString(), "address", cmd.address.String())
			return
		}
		s.logger.Debug("added peer", "peer", cmd.peer.ShortString(), "address", cmd.address.String(), "we_dial", weDial)
		if weDial {
			s.spawnOutgoing(ctx, cmd.peer, cmd.address)
		}

	case cmdRemoveConnection:
		s.manager.RemovePeer(cmd.peer)
		s.backoff.Reset(cmd.peer)
		if timer, ok := s.retryTimers[cmd.peer]; ok {
			timer.Stop()
			delete(s.retryTimers, cmd.peer)
		}
		s.logger.Debug("removed peer", "peer", cmd.peer.ShortString())

	case cmdSendData:
		err := s.manager.SendTo(cmd.peer, cmd.data)
		switch {
		case err == nil:
		case errors.Is(err, connection.ErrPeerNotFound):
			s.metrics.SendFailed("peer_not_found")
			s.logger.Debug("failed sending data", "peer", cmd.peer.ShortString(), "error", err)
		default:
			s.metrics.SendFailed("connection_closed")
			s.logger.Debug("failed sending data", "peer", cmd.peer.ShortString(), "error", err)
		}

	case cmdStatus:
		cmd.reply <- s.status()
	}
}

// checkForLegacy moves a peer that spoke the legacy protocol to the
// unidirectional class. It reports whether a legacy outgoing connection
// must be started because of that.
func (s *Service) checkForLegacy(peer crypto.PublicKey, kind protocol.ConnectionType) bool {
	switch kind {
	case protocol.LegacyIncoming:
		return s.manager.MarkLegacy(peer)
	case protocol.LegacyOutgoing:
		s.manager.MarkLegacy(peer)
		return false
	default:
		// Failed attempts always report New, so the class is only reverted
		// once a new-protocol link is actually added.
		return false
	}
}

func (s *Service) handleResult(ctx context.Context, res protocol.Result) {
	peer := res.PeerID
	if s.checkForLegacy(peer, res.Type) {
		s.logger.Info("peer uses the legacy protocol", "peer", peer.ShortString())
		if addr, ok := s.manager.PeerAddress(peer); ok {
			s.spawnOutgoing(ctx, peer, addr)
		}
	}

	if res.Link == nil {
		s.scheduleRetry(peer)
		return
	}

	var result connection.AddResult
	switch res.Type {
	case protocol.LegacyIncoming:
		result = s.manager.AddIncoming(peer, res.Link)
	case protocol.LegacyOutgoing:
		result = s.manager.AddOutgoing(peer, res.Link)
	default:
		s.manager.UnmarkLegacy(peer)
		result = s.manager.AddConnection(peer, res.Link)
	}

	class, _ := s.manager.Class(peer)
	s.metrics.AddResult(class.Label(), result.Label())
	switch result {
	case connection.Added:
		s.backoff.Reset(peer)
		s.logger.Info("new connection with peer", "peer", peer.ShortString(), "type", res.Type.String())
	case connection.Replaced:
		s.backoff.Reset(peer)
		s.logger.Info("replaced connection with peer", "peer", peer.ShortString(), "type", res.Type.String())
	case connection.Uninterested:
		s.logger.Warn("established connection with peer for unknown reasons", "peer", peer.ShortString())
	}
}

// scheduleRetry redials peer after its backoff delay, provided we still
// want it and are the side that dials.
func (s *Service) scheduleRetry(peer crypto.PublicKey) {
	if _, ok := s.manager.PeerAddress(peer); !ok {
		return
	}
	if _, pending := s.retryTimers[peer]; pending {
		return
	}
	delay := s.backoff.Failure(peer)
	s.logger.Debug("scheduling reconnection", "peer", peer.ShortString(), "delay", delay, "attempt", s.backoff.Attempts(peer))
	s.retryTimers[peer] = s.cfg.Clock.AfterFunc(delay, func() {
		_ = s.retries.tx.Send(peer)
	})
}

func (s *Service) spawnOutgoing(ctx context.Context, peer crypto.PublicKey, addr transport.Address) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.outgoing(ctx, peer, addr)
	}()
}

func (s *Service) spawnIncoming(ctx context.Context, conn net.Conn) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.incoming(ctx, conn)
	}()
}

func (s *Service) reportStatus() {
	s.logger.Info("clique network status", "report", s.manager.StatusReport())
	s.logger.Debug("clique network legacy status", "report", s.manager.LegacyStatusReport())
	for class, n := range s.manager.Peers() {
		s.metrics.PeersWanted(class.Label(), n)
	}
	for class, n := range s.manager.Connected() {
		s.metrics.PeersConnected(class.Label(), n)
	}
}

func (s *Service) shutdown(cancel context.CancelFunc, acceptDone <-chan struct{}) error {
	var errs error
	cancel()
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierr.Append(errs, err)
	}
	<-acceptDone

	for peer, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, peer)
	}
	s.manager.Close()
	s.workers.Wait()

	s.data.Close()
	s.commands.Close()
	s.results.rx.Close()
	s.auth.rx.Close()
	s.retries.rx.Close()
	for {
		conn, ok, _ := s.accepted.rx.TryRecv()
		if !ok {
			break
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	s.accepted.rx.Close()
	close(s.done)

	s.logger.Info("clique service stopped", "peer", s.own.ShortString())
	return errs
}
