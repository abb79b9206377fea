// Package connection keeps track of the peers a node wants to be connected
// to, decides who dials whom and holds the established links to them.
package connection

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionClass describes how connections with a peer are organised.
type ConnectionClass int

const (
	// Bidirectional peers share a single connection, dialed by the side
	// chosen by ShouldWeDial.
	Bidirectional ConnectionClass = iota

	// Unidirectional peers run the legacy protocol: each side dials the
	// other and every connection carries data one way only.
	Unidirectional
)

// String returns a human-readable representation of the class.
func (c ConnectionClass) String() string {
	switch c {
	case Bidirectional:
		return "Bidirectional"
	case Unidirectional:
		return "Unidirectional"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// Label returns the metric label used for the class.
func (c ConnectionClass) Label() string {
	switch c {
	case Bidirectional:
		return "bidirectional"
	case Unidirectional:
		return "unidirectional"
	default:
		return "unknown"
	}
}

// AddResult is the outcome of registering an established connection.
type AddResult int

const (
	// Uninterested means the peer is not wanted and nothing changed.
	Uninterested AddResult = iota

	// Added means the peer had no connection before.
	Added

	// Replaced means an existing connection was closed in favour of the new one.
	Replaced
)

// String returns a human-readable representation of the result.
func (r AddResult) String() string {
	switch r {
	case Uninterested:
		return "Uninterested"
	case Added:
		return "Added"
	case Replaced:
		return "Replaced"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// Label returns the metric label used for the result.
func (r AddResult) Label() string {
	return strings.ToLower(r.String())
}

// Sentinel errors returned by Manager.SendTo.
var (
	// ErrPeerNotFound indicates there is no connection to the peer.
	ErrPeerNotFound = errors.New("peer not found")

	// ErrConnectionClosed indicates the worker behind the connection is gone.
	ErrConnectionClosed = errors.New("connection closed")
)
