package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/multierr"
)

// TCPDialer dials plain TCP connections to multiaddrs.
//
// TCPDialer is safe for concurrent use.
type TCPDialer struct {
	dialer manet.Dialer
}

// NewTCPDialer creates a dialer.
func NewTCPDialer() *TCPDialer {
	return &TCPDialer{}
}

// Dial connects to the first reachable multiaddr of addr. If none is
// reachable the returned error carries every individual failure.
func (d *TCPDialer) Dial(ctx context.Context, addr Address) (net.Conn, error) {
	if len(addr) == 0 {
		return nil, ErrNoAddresses
	}
	var errs error
	for _, ma := range addr {
		conn, err := d.dialer.DialContext(ctx, ma)
		if err == nil {
			return conn, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("dial %s: %w", ma, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs
}

// TCPListener accepts plain TCP connections on a multiaddr.
type TCPListener struct {
	listener manet.Listener
}

// ListenTCP starts listening on addr, e.g. /ip4/0.0.0.0/tcp/30343.
func ListenTCP(addr multiaddr.Multiaddr) (*TCPListener, error) {
	l, err := manet.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &TCPListener{listener: l}, nil
}

// Accept waits for the next inbound connection.
func (l *TCPListener) Accept() (net.Conn, error) {
	return l.listener.Accept()
}

// Close stops listening. Blocked Accept calls return an error.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// Multiaddr returns the address the listener is bound to.
func (l *TCPListener) Multiaddr() multiaddr.Multiaddr {
	return l.listener.Multiaddr()
}
