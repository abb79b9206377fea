// Package testutil provides helpers shared by the clique tests: key
// generation, connected socket pairs and an in-process network whose
// dialer reaches listeners registered under arbitrary multiaddrs.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/transport"
)

// Sentinel errors for mock operations.
var (
	ErrUnreachable = errors.New("address unreachable")

	// ErrListenerClosed wraps net.ErrClosed like a closed socket would.
	ErrListenerClosed = fmt.Errorf("listener closed: %w", net.ErrClosed)
)

// SecretKey generates a fresh identity or fails the test.
func SecretKey(t testing.TB) *crypto.SecretKey {
	t.Helper()
	sk, err := crypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return sk
}

// TCPPair returns both ends of a loopback TCP connection. Unlike
// net.Pipe, writes are buffered by the kernel, so both ends may write
// before reading. The connections are closed when the test ends.
func TCPPair(t testing.TB) (net.Conn, net.Conn) {
	t.Helper()
	dialer, listener, err := tcpPair()
	if err != nil {
		t.Fatalf("failed to create tcp pair: %v", err)
	}
	t.Cleanup(func() {
		_ = dialer.Close()
		_ = listener.Close()
	})
	return dialer, listener
}

func tcpPair() (net.Conn, net.Conn, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	defer l.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		accepted <- result{conn, err}
	}()

	dialed, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		return nil, nil, err
	}
	res := <-accepted
	if res.err != nil {
		_ = dialed.Close()
		return nil, nil, res.err
	}
	return dialed, res.conn, nil
}

// Network is an in-process network. Listeners register under multiaddr
// strings and dialers connect to them over loopback TCP, so any address,
// including unroutable ones, can be used in tests.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	dials     map[string]int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		listeners: make(map[string]*Listener),
		dials:     make(map[string]int),
	}
}

// Listen registers a listener reachable under every address in addr.
func (n *Network) Listen(addr transport.Address) *Listener {
	l := &Listener{
		network: n,
		addr:    addr.Clone(),
		conns:   make(chan net.Conn, 16),
		done:    make(chan struct{}),
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range addr.Strings() {
		n.listeners[s] = l
	}
	return l
}

// Dialer returns a dialer connected to this network.
func (n *Network) Dialer() *Dialer {
	return &Dialer{network: n}
}

// Dials returns how many times the address was dialed.
func (n *Network) Dials(addr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials[addr]
}

func (n *Network) lookup(addr string) *Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials[addr]++
	return n.listeners[addr]
}

func (n *Network) remove(l *Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for s, registered := range n.listeners {
		if registered == l {
			delete(n.listeners, s)
		}
	}
}

// Dialer dials listeners of a Network.
type Dialer struct {
	network *Network
}

// Dial connects to the first reachable address.
func (d *Dialer) Dial(ctx context.Context, addr transport.Address) (net.Conn, error) {
	if len(addr) == 0 {
		return nil, transport.ErrNoAddresses
	}
	for _, s := range addr.Strings() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l := d.network.lookup(s)
		if l == nil {
			continue
		}
		dialed, accepted, err := tcpPair()
		if err != nil {
			return nil, err
		}
		if err := l.deliver(ctx, accepted); err != nil {
			_ = dialed.Close()
			_ = accepted.Close()
			continue
		}
		return dialed, nil
	}
	return nil, ErrUnreachable
}

// Listener accepts connections dialed through its Network.
type Listener struct {
	network *Network
	addr    transport.Address

	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *Listener) deliver(ctx context.Context, conn net.Conn) error {
	select {
	case <-l.done:
		return ErrListenerClosed
	default:
	}
	select {
	case l.conns <- conn:
		return nil
	case <-l.done:
		return ErrListenerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accept waits for the next dialed connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

// Close unregisters the listener and unblocks Accept.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.network.remove(l)
		for {
			select {
			case conn := <-l.conns:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	return nil
}

// Address returns the addresses the listener is registered under.
func (l *Listener) Address() transport.Address {
	return l.addr.Clone()
}
