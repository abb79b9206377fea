package connection

import (
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/transport"
)

// peerEntry is one wanted peer. Bidirectional peers use link, unidirectional
// peers use the independent incoming and outgoing links.
type peerEntry struct {
	address  transport.Address
	class    ConnectionClass
	weDial   bool
	link     *Link
	incoming *Link
	outgoing *Link
}

func (e *peerEntry) closeLinks() {
	for _, l := range []*Link{e.link, e.incoming, e.outgoing} {
		if l != nil {
			l.Close()
		}
	}
	e.link, e.incoming, e.outgoing = nil, nil, nil
}

// Manager holds the peers we want to stay connected with and the links
// established to them. A peer is connected only while it is wanted.
//
// Manager is NOT safe for concurrent use. It is owned by a single service
// goroutine that serialises every mutation.
type Manager struct {
	own   crypto.PublicKey
	peers map[crypto.PublicKey]*peerEntry
}

// NewManager creates an empty manager for the identity own.
func NewManager(own crypto.PublicKey) *Manager {
	return &Manager{
		own:   own,
		peers: make(map[crypto.PublicKey]*peerEntry),
	}
}

// AddPeer registers a wanted peer or updates its address. It returns
// whether we are the side that dials it, which never changes for a peer.
// New peers start as Bidirectional.
func (m *Manager) AddPeer(id crypto.PublicKey, addr transport.Address) bool {
	if e, ok := m.peers[id]; ok {
		e.address = addr.Clone()
		return e.weDial
	}
	e := &peerEntry{
		address: addr.Clone(),
		class:   Bidirectional,
		weDial:  ShouldWeDial(m.own, id),
	}
	m.peers[id] = e
	return e.weDial
}

// IsAuthorized reports whether id is a wanted peer.
func (m *Manager) IsAuthorized(id crypto.PublicKey) bool {
	_, ok := m.peers[id]
	return ok
}

// PeerAddress returns the address to dial id at. Bidirectional peers only
// have one if we are the dialing side; unidirectional peers are always
// dialed.
func (m *Manager) PeerAddress(id crypto.PublicKey) (transport.Address, bool) {
	e, ok := m.peers[id]
	if !ok {
		return nil, false
	}
	if e.class == Bidirectional && !e.weDial {
		return nil, false
	}
	return e.address.Clone(), true
}

// Class returns the connection class of a wanted peer.
func (m *Manager) Class(id crypto.PublicKey) (ConnectionClass, bool) {
	e, ok := m.peers[id]
	if !ok {
		return Bidirectional, false
	}
	return e.class, true
}

// AddConnection records an established bidirectional link. A link that
// is not kept is closed.
func (m *Manager) AddConnection(id crypto.PublicKey, link *Link) AddResult {
	e, ok := m.peers[id]
	if !ok {
		link.Close()
		return Uninterested
	}
	return replace(&e.link, link)
}

// AddIncoming records an established legacy link on which the peer sends
// to us.
func (m *Manager) AddIncoming(id crypto.PublicKey, link *Link) AddResult {
	e, ok := m.peers[id]
	if !ok {
		link.Close()
		return Uninterested
	}
	return replace(&e.incoming, link)
}

// AddOutgoing records an established legacy link on which we send to the
// peer.
func (m *Manager) AddOutgoing(id crypto.PublicKey, link *Link) AddResult {
	e, ok := m.peers[id]
	if !ok {
		link.Close()
		return Uninterested
	}
	return replace(&e.outgoing, link)
}

func replace(slot **Link, link *Link) AddResult {
	old := *slot
	*slot = link
	if old == nil {
		return Added
	}
	if old != link {
		old.Close()
	}
	return Replaced
}

// RemovePeer forgets the peer and closes all its links.
func (m *Manager) RemovePeer(id crypto.PublicKey) {
	e, ok := m.peers[id]
	if !ok {
		return
	}
	e.closeLinks()
	delete(m.peers, id)
}

// MarkLegacy switches a wanted peer to the unidirectional class, closing
// its bidirectional link. It returns true only when the class actually
// changed.
func (m *Manager) MarkLegacy(id crypto.PublicKey) bool {
	e, ok := m.peers[id]
	if !ok || e.class == Unidirectional {
		return false
	}
	e.class = Unidirectional
	if e.link != nil {
		e.link.Close()
		e.link = nil
	}
	return true
}

// UnmarkLegacy switches a peer back to the bidirectional class, closing
// its legacy links.
func (m *Manager) UnmarkLegacy(id crypto.PublicKey) {
	e, ok := m.peers[id]
	if !ok || e.class == Bidirectional {
		return
	}
	e.class = Bidirectional
	for _, l := range []*Link{e.incoming, e.outgoing} {
		if l != nil {
			l.Close()
		}
	}
	e.incoming, e.outgoing = nil, nil
}

// IsLegacy reports whether the peer uses the unidirectional class.
func (m *Manager) IsLegacy(id crypto.PublicKey) bool {
	e, ok := m.peers[id]
	return ok && e.class == Unidirectional
}

// SendTo queues data for the peer on the link appropriate for its class.
func (m *Manager) SendTo(id crypto.PublicKey, data []byte) error {
	e, ok := m.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	link := e.link
	if e.class == Unidirectional {
		link = e.outgoing
	}
	if link == nil {
		return ErrPeerNotFound
	}
	return link.Send(data)
}

// Peers returns the number of wanted peers per class.
func (m *Manager) Peers() map[ConnectionClass]int {
	counts := map[ConnectionClass]int{Bidirectional: 0, Unidirectional: 0}
	for _, e := range m.peers {
		counts[e.class]++
	}
	return counts
}

// Connected returns the number of peers with a live connection per class.
// A unidirectional peer counts when at least one of its links is live.
func (m *Manager) Connected() map[ConnectionClass]int {
	counts := map[ConnectionClass]int{Bidirectional: 0, Unidirectional: 0}
	for _, e := range m.peers {
		switch e.class {
		case Bidirectional:
			if live(e.link) {
				counts[Bidirectional]++
			}
		case Unidirectional:
			if live(e.incoming) || live(e.outgoing) {
				counts[Unidirectional]++
			}
		}
	}
	return counts
}

// Close closes every link and forgets all peers.
func (m *Manager) Close() {
	for id, e := range m.peers {
		e.closeLinks()
		delete(m.peers, id)
	}
}

func live(l *Link) bool {
	return l != nil && !l.IsClosed()
}
