// Package transport provides TCP dialing and listening over multiaddrs for
// clique peers.
package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multiaddr"
)

// ErrNoAddresses indicates an Address without any multiaddr in it.
var ErrNoAddresses = errors.New("no addresses to dial")

// Address is the set of multiaddrs a peer can be reached at. Dialers try
// them in order.
type Address []multiaddr.Multiaddr

// ParseAddress parses multiaddr strings into an Address.
func ParseAddress(addrs ...string) (Address, error) {
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}
	result := make(Address, 0, len(addrs))
	for _, s := range addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		result = append(result, ma)
	}
	return result, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(addrs ...string) Address {
	a, err := ParseAddress(addrs...)
	if err != nil {
		panic(err)
	}
	return a
}

// Clone returns a copy of the address list.
func (a Address) Clone() Address {
	if a == nil {
		return nil
	}
	c := make(Address, len(a))
	copy(c, a)
	return c
}

// Equal reports whether both lists contain the same multiaddrs in the same order.
func (a Address) Equal(other Address) bool {
	if len(a) != len(other) {
		return false
	}
	for i := range a {
		if !a[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Strings returns the string form of every multiaddr.
func (a Address) Strings() []string {
	s := make([]string, 0, len(a))
	for _, ma := range a {
		s = append(s, ma.String())
	}
	return s
}

// String returns the multiaddrs joined by commas.
func (a Address) String() string {
	return strings.Join(a.Strings(), ",")
}
