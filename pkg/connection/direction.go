package connection

import (
	"math/bits"

	"github.com/blockberries/clique/pkg/crypto"
)

// Direction says which side of a bidirectional connection dials.
type Direction int

const (
	// TheyDial means we wait for the remote peer to connect to us.
	TheyDial Direction = iota

	// WeDial means we are responsible for connecting to the remote peer.
	WeDial
)

// String returns a human-readable representation of the direction.
func (d Direction) String() string {
	switch d {
	case TheyDial:
		return "TheyDial"
	case WeDial:
		return "WeDial"
	default:
		return "Unknown"
	}
}

// DirectionTo decides who dials between own and remote. Both peers reach
// complementary answers without exchanging messages: the parity of the
// set bits of the xor of all key bytes picks whether the lexicographically
// smaller or larger key dials.
func DirectionTo(own, remote crypto.PublicKey) Direction {
	if ShouldWeDial(own, remote) {
		return WeDial
	}
	return TheyDial
}

// ShouldWeDial reports whether own is the dialing side towards remote.
// A key never dials itself.
func ShouldWeDial(own, remote crypto.PublicKey) bool {
	var folded byte
	for i := range own {
		folded ^= own[i] ^ remote[i]
	}
	if bits.OnesCount8(folded)%2 == 0 {
		return own.Compare(remote) < 0
	}
	return own.Compare(remote) > 0
}
