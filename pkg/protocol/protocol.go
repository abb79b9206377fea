// Package protocol implements the wire protocols spoken between clique
// peers: version negotiation, the challenge/response handshake and the
// steady-state loops of the bidirectional (V1) and legacy (V0) protocols.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/connection"
	"github.com/blockberries/clique/pkg/crypto"
)

// Protocol is a negotiated protocol version.
type Protocol uint32

const (
	// V0 is the legacy protocol. Every peer dials every other peer and each
	// connection carries data one way only.
	V0 Protocol = 0

	// V1 uses the pseudorandom direction assignment, so a single connection
	// carries data both ways.
	V1 Protocol = 1
)

const (
	// MinVersion is the oldest protocol this build speaks.
	MinVersion = V0

	// MaxVersion is the newest protocol this build speaks.
	MaxVersion = V1
)

// String returns a short label such as "v1".
func (p Protocol) String() string {
	return fmt.Sprintf("v%d", uint32(p))
}

func protocolFromVersion(version uint32) (Protocol, bool) {
	switch Protocol(version) {
	case V0, V1:
		return Protocol(version), true
	default:
		return 0, false
	}
}

// ConnectionType tags a worker result so the service knows which
// bookkeeping the link belongs to.
type ConnectionType int

const (
	// New is a bidirectional V1 connection.
	New ConnectionType = iota

	// LegacyIncoming is a V0 connection on which the peer sends to us.
	LegacyIncoming

	// LegacyOutgoing is a V0 connection on which we send to the peer.
	LegacyOutgoing
)

// String returns a human-readable name for the connection type.
func (t ConnectionType) String() string {
	switch t {
	case New:
		return "New"
	case LegacyIncoming:
		return "LegacyIncoming"
	case LegacyOutgoing:
		return "LegacyOutgoing"
	default:
		return fmt.Sprintf("ConnectionType(%d)", int(t))
	}
}

// IsLegacy reports whether the type belongs to the V0 protocol.
func (t ConnectionType) IsLegacy() bool {
	return t == LegacyIncoming || t == LegacyOutgoing
}

// Result is what a worker reports to the service: the peer, the link to
// its established connection and the connection type. A nil Link means the
// attempt failed and should be retried.
type Result struct {
	PeerID crypto.PublicKey
	Link   *connection.Link
	Type   ConnectionType
}

// Metrics receives per-message counters from the protocol loops.
type Metrics interface {
	MessageSent(protocol string, bytes int)
	MessageReceived(protocol string, bytes int)
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(string, int)     {}
func (nopMetrics) MessageReceived(string, int) {}

// Channels connects a running protocol to the service that started it.
type Channels struct {
	// Results receives the established link.
	Results unbounded.Sender[Result]

	// Data receives every data payload from the peer.
	Data unbounded.Sender[[]byte]

	// Metrics is optional.
	Metrics Metrics
}

func (c Channels) metrics() Metrics {
	if c.Metrics == nil {
		return nopMetrics{}
	}
	return c.Metrics
}

// Timing constants of the protocols.
const (
	// NegotiationTimeout bounds the version exchange.
	NegotiationTimeout = 5 * time.Second

	// HandshakeTimeout bounds the challenge/response exchange.
	HandshakeTimeout = 10 * time.Second

	// HeartbeatInterval is how long a sender may stay idle before it
	// sends a heartbeat.
	HeartbeatInterval = 5 * time.Second

	// MaxMissedHeartbeats is how many heartbeat intervals may pass without
	// a message before the connection is considered dead.
	MaxMissedHeartbeats = 4
)

// Overridden in tests.
var (
	heartbeatInterval = HeartbeatInterval
	handshakeTimeout  = HandshakeTimeout
)

func heartbeatTimeout() time.Duration {
	return MaxMissedHeartbeats * heartbeatInterval
}

// Sentinel errors for the steady-state protocols.
var (
	// ErrCardiacArrest indicates the peer stopped sending heartbeats.
	ErrCardiacArrest = errors.New("heartbeat stopped")

	// ErrNoParentConnection indicates the service stopped accepting results.
	ErrNoParentConnection = errors.New("cannot send result to service")

	// ErrNoUserConnection indicates the user data queue was closed.
	ErrNoUserConnection = errors.New("cannot send data to user")

	// ErrNotAuthorized indicates the peer is not one we want to talk to.
	ErrNotAuthorized = errors.New("peer not authorized")

	// ErrSendTimeout indicates a single send took too long.
	ErrSendTimeout = errors.New("send timed out")

	// ErrLinkClosed indicates the service closed the link, for example
	// because the connection was replaced or the peer removed.
	ErrLinkClosed = errors.New("link closed by service")
)

// Message kinds.
const (
	MessageData      uint32 = 1
	MessageHeartbeat uint32 = 2
)

// Message is the envelope of every frame exchanged after the handshake.
type Message struct {
	Kind    uint32 `cramberry:"1"`
	Payload []byte `cramberry:"2"`
}
