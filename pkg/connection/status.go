package connection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blockberries/clique/pkg/crypto"
)

// PeerStatus describes a single wanted peer.
type PeerStatus struct {
	PublicKey crypto.PublicKey
	Class     ConnectionClass
	WeDial    bool
	Address   string

	// Connected is set for bidirectional peers with a live link.
	Connected bool

	// Incoming and Outgoing are set for unidirectional peers with live
	// links in the respective direction.
	Incoming bool
	Outgoing bool
}

// Snapshot returns the status of every wanted peer ordered by key.
func (m *Manager) Snapshot() []PeerStatus {
	result := make([]PeerStatus, 0, len(m.peers))
	for id, e := range m.peers {
		result = append(result, PeerStatus{
			PublicKey: id,
			Class:     e.class,
			WeDial:    e.weDial,
			Address:   e.address.String(),
			Connected: e.class == Bidirectional && live(e.link),
			Incoming:  e.class == Unidirectional && live(e.incoming),
			Outgoing:  e.class == Unidirectional && live(e.outgoing),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PublicKey.Compare(result[j].PublicKey) < 0
	})
	return result
}

type peerSet []crypto.PublicKey

func (s peerSet) String() string {
	names := make([]string, 0, len(s))
	for _, id := range s {
		names = append(names, id.ShortString())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// StatusReport describes the bidirectional peers: who we expect to dial
// us, who we dial and which of those connections are missing.
func (m *Manager) StatusReport() string {
	var haveIn, missingIn, haveOut, missingOut peerSet
	for id, e := range m.peers {
		if e.class != Bidirectional {
			continue
		}
		connected := live(e.link)
		switch {
		case e.weDial && connected:
			haveOut = append(haveOut, id)
		case e.weDial:
			missingOut = append(missingOut, id)
		case connected:
			haveIn = append(haveIn, id)
		default:
			missingIn = append(missingIn, id)
		}
	}

	wantedIn := len(haveIn) + len(missingIn)
	wantedOut := len(haveOut) + len(missingOut)
	if wantedIn+wantedOut == 0 {
		return "not maintaining any connections; "
	}

	var b strings.Builder
	if wantedIn == 0 {
		b.WriteString("not expecting any incoming connections; ")
	} else {
		fmt.Fprintf(&b, "expecting %d incoming connections; ", wantedIn)
		if len(haveIn) == 0 {
			b.WriteString("WARNING! No incoming peers even though we expected them, maybe connecting to us is impossible; ")
		} else {
			fmt.Fprintf(&b, "have - %d [%s]; ", len(haveIn), haveIn)
		}
		if len(missingIn) > 0 {
			fmt.Fprintf(&b, "missing - %d [%s]; ", len(missingIn), missingIn)
		}
	}

	if wantedOut == 0 {
		b.WriteString("not attempting any outgoing connections; ")
	} else {
		fmt.Fprintf(&b, "attempting %d outgoing connections; ", wantedOut)
		if len(haveOut) > 0 {
			fmt.Fprintf(&b, "have - %d [%s]; ", len(haveOut), haveOut)
		}
		if len(missingOut) > 0 {
			fmt.Fprintf(&b, "missing - %d [%s]; ", len(missingOut), missingOut)
		}
	}
	return b.String()
}

// LegacyStatusReport describes the unidirectional peers: which have links
// both ways, only one way or none at all.
func (m *Manager) LegacyStatusReport() string {
	var bothWays, incomingOnly, outgoingOnly, missing peerSet
	wanted := 0
	for id, e := range m.peers {
		if e.class != Unidirectional {
			continue
		}
		wanted++
		in, out := live(e.incoming), live(e.outgoing)
		switch {
		case in && out:
			bothWays = append(bothWays, id)
		case in:
			incomingOnly = append(incomingOnly, id)
		case out:
			outgoingOnly = append(outgoingOnly, id)
		default:
			missing = append(missing, id)
		}
	}

	if wanted == 0 {
		return "not maintaining any connections; "
	}

	var b strings.Builder
	fmt.Fprintf(&b, "target - %d connections; ", wanted)
	if len(bothWays) == 0 && len(incomingOnly) == 0 {
		b.WriteString("WARNING! No incoming peers even though we expected them, maybe connecting to us is impossible; ")
	}
	if len(bothWays) > 0 {
		fmt.Fprintf(&b, "both ways - %d [%s]; ", len(bothWays), bothWays)
	}
	if len(incomingOnly) > 0 {
		fmt.Fprintf(&b, "incoming only - %d [%s]; ", len(incomingOnly), incomingOnly)
	}
	if len(outgoingOnly) > 0 {
		fmt.Fprintf(&b, "outgoing only - %d [%s]; ", len(outgoingOnly), outgoingOnly)
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "missing - %d [%s]; ", len(missing), missing)
	}
	return b.String()
}
