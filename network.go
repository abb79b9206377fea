package clique

import (
	"context"
	"net"

	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/transport"
)

// Dialer opens connections to peers. Implementations must be safe for
// concurrent use; every outgoing worker dials on its own.
type Dialer interface {
	Dial(ctx context.Context, addr transport.Address) (net.Conn, error)
}

// Listener accepts connections from peers. Close must unblock a pending
// Accept, which then returns net.ErrClosed.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
}

type commandKind int

const (
	cmdAddConnection commandKind = iota
	cmdRemoveConnection
	cmdSendData
	cmdStatus
)

type command struct {
	kind    commandKind
	peer    crypto.PublicKey
	address transport.Address
	data    []byte
	reply   chan *Status
}

// Interface is the user's handle on a running Service. Its methods never
// block on the network.
type Interface struct {
	commands unbounded.Sender[command]
	data     unbounded.Receiver[[]byte]
	done     <-chan struct{}
	logger   Logger
}

func (i *Interface) push(cmd command) {
	if err := i.commands.Send(cmd); err != nil {
		i.logger.Debug("dropping command, service terminated", "peer", cmd.peer.ShortString())
	}
}

// AddConnection asks the service to keep a connection with peer, which
// can be reached at addr. Calling it again for a known peer updates the
// address.
func (i *Interface) AddConnection(peer crypto.PublicKey, addr transport.Address) {
	i.push(command{kind: cmdAddConnection, peer: peer, address: addr.Clone()})
}

// RemoveConnection asks the service to drop peer and any connection to it.
func (i *Interface) RemoveConnection(peer crypto.PublicKey) {
	i.push(command{kind: cmdRemoveConnection, peer: peer})
}

// Send queues data for peer. Data for peers that are not connected is
// dropped.
func (i *Interface) Send(data []byte, peer crypto.PublicKey) {
	i.push(command{kind: cmdSendData, peer: peer, data: data})
}

// Next returns the next message received from any peer. It returns
// io.EOF once the service has stopped and every received message has
// been consumed.
//
// Next must be called from a single goroutine.
func (i *Interface) Next(ctx context.Context) ([]byte, error) {
	return i.data.Recv(ctx)
}

// Status returns a snapshot of the peers the service manages.
func (i *Interface) Status(ctx context.Context) (*Status, error) {
	reply := make(chan *Status, 1)
	if err := i.commands.Send(command{kind: cmdStatus, reply: reply}); err != nil {
		return nil, ErrServiceStopped
	}
	select {
	case status := <-reply:
		return status, nil
	case <-i.done:
		select {
		case status := <-reply:
			return status, nil
		default:
			return nil, ErrServiceStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
