package connection

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddress = transport.MustParseAddress("/ip4/43.43.43.43/tcp/43000")

func randomKey(t *testing.T) crypto.PublicKey {
	t.Helper()
	sk, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	return sk.PublicKey()
}

// keyWithDirection returns a fresh key towards which own has the wanted role.
func keyWithDirection(t *testing.T, own crypto.PublicKey, weDial bool) crypto.PublicKey {
	t.Helper()
	for i := 0; i < 1000; i++ {
		k := randomKey(t)
		if ShouldWeDial(own, k) == weDial {
			return k
		}
	}
	t.Fatal("could not find a key with the requested direction")
	return crypto.PublicKey{}
}

func recvWithin(t *testing.T, rx unbounded.Receiver[[]byte]) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return rx.Recv(ctx)
}

func TestShouldWeDial_Symmetric(t *testing.T) {
	for i := 0; i < 200; i++ {
		a, b := randomKey(t), randomKey(t)
		if ShouldWeDial(a, b) == ShouldWeDial(b, a) {
			t.Fatalf("direction not complementary for %s and %s", a, b)
		}
		if DirectionTo(a, b) == DirectionTo(b, a) {
			t.Fatalf("DirectionTo not complementary for %s and %s", a, b)
		}
	}
}

func TestShouldWeDial_Self(t *testing.T) {
	k := randomKey(t)
	assert.False(t, ShouldWeDial(k, k))
}

func TestShouldWeDial_Parity(t *testing.T) {
	var small, large crypto.PublicKey
	small[0], large[0] = 1, 3
	// 1 xor 3 = 2, one set bit: odd parity, the larger key dials.
	assert.True(t, ShouldWeDial(large, small))
	assert.False(t, ShouldWeDial(small, large))

	large[0] = 2
	// 1 xor 2 = 3, two set bits: even parity, the smaller key dials.
	assert.True(t, ShouldWeDial(small, large))
	assert.False(t, ShouldWeDial(large, small))
}

func TestManager_AddRemovePeer(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	dialed := keyWithDirection(t, own, true)
	dialing := keyWithDirection(t, own, false)

	assert.True(t, m.AddPeer(dialed, testAddress))
	assert.True(t, m.AddPeer(dialed, testAddress), "dial role must be stable across re-adds")
	assert.False(t, m.AddPeer(dialing, testAddress))
	assert.False(t, m.AddPeer(dialing, testAddress))

	addr, ok := m.PeerAddress(dialed)
	require.True(t, ok)
	assert.True(t, testAddress.Equal(addr))

	_, ok = m.PeerAddress(dialing)
	assert.False(t, ok, "no address for a peer that dials us")

	assert.True(t, m.IsAuthorized(dialed))
	assert.True(t, m.IsAuthorized(dialing))

	m.RemovePeer(dialed)
	_, ok = m.PeerAddress(dialed)
	assert.False(t, ok)
	assert.False(t, m.IsAuthorized(dialed))
}

func TestManager_AddPeerUpdatesAddress(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	peer := keyWithDirection(t, own, true)
	updated := transport.MustParseAddress("/ip4/10.0.0.1/tcp/30343")

	m.AddPeer(peer, testAddress)
	m.AddPeer(peer, updated)

	addr, ok := m.PeerAddress(peer)
	require.True(t, ok)
	assert.True(t, updated.Equal(addr))
}

func TestManager_SendToUnknownPeer(t *testing.T) {
	m := NewManager(randomKey(t))
	err := m.SendTo(randomKey(t), []byte("DATA"))
	assert.True(t, errors.Is(err, ErrPeerNotFound))
}

func TestManager_Connection(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	peer := keyWithDirection(t, own, false)

	link, rx, _ := NewLink(context.Background())
	// Not wanted yet.
	assert.Equal(t, Uninterested, m.AddConnection(peer, link))
	assert.True(t, link.IsClosed())
	assert.True(t, errors.Is(m.SendTo(peer, []byte("DATA")), ErrPeerNotFound))

	m.AddPeer(peer, testAddress)
	assert.True(t, errors.Is(m.SendTo(peer, []byte("DATA")), ErrPeerNotFound), "wanted but not connected")

	link, rx, _ = NewLink(context.Background())
	assert.Equal(t, Added, m.AddConnection(peer, link))

	for _, msg := range []string{"DATA", "MORE", "LAST"} {
		require.NoError(t, m.SendTo(peer, []byte(msg)))
	}
	for _, want := range []string{"DATA", "MORE", "LAST"} {
		got, err := recvWithin(t, rx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	m.RemovePeer(peer)
	_, err := recvWithin(t, rx)
	assert.True(t, errors.Is(err, io.EOF), "removed peer's receiver should see end of stream, got %v", err)
	assert.True(t, errors.Is(m.SendTo(peer, []byte("DATA")), ErrPeerNotFound))
}

func TestManager_ConnectionClosed(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	peer := randomKey(t)
	m.AddPeer(peer, testAddress)

	link, rx, _ := NewLink(context.Background())
	require.Equal(t, Added, m.AddConnection(peer, link))
	rx.Close()

	assert.True(t, errors.Is(m.SendTo(peer, []byte("DATA")), ErrConnectionClosed))
}

func TestManager_Replace(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	peer := randomKey(t)
	m.AddPeer(peer, testAddress)

	oldLink, oldRx, oldCtx := NewLink(context.Background())
	require.Equal(t, Added, m.AddConnection(peer, oldLink))

	newLink, newRx, _ := NewLink(context.Background())
	assert.Equal(t, Replaced, m.AddConnection(peer, newLink))
	assert.Error(t, oldCtx.Err(), "replaced worker should be cancelled")

	require.NoError(t, m.SendTo(peer, []byte("DATA")))
	got, err := recvWithin(t, newRx)
	require.NoError(t, err)
	assert.Equal(t, "DATA", string(got))

	_, err = recvWithin(t, oldRx)
	assert.True(t, errors.Is(err, io.EOF), "old receiver should see end of stream, got %v", err)
}

func TestManager_Legacy(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	peer := keyWithDirection(t, own, false)
	m.AddPeer(peer, testAddress)

	link, _, linkCtx := NewLink(context.Background())
	require.Equal(t, Added, m.AddConnection(peer, link))

	assert.True(t, m.MarkLegacy(peer))
	assert.False(t, m.MarkLegacy(peer), "second mark is not the first time")
	assert.False(t, m.MarkLegacy(randomKey(t)), "unknown peers are never marked")
	assert.True(t, m.IsLegacy(peer))
	assert.Error(t, linkCtx.Err(), "bidirectional link closed when marking legacy")

	// Legacy peers are always dialed.
	addr, ok := m.PeerAddress(peer)
	require.True(t, ok)
	assert.True(t, testAddress.Equal(addr))

	incoming, _, _ := NewLink(context.Background())
	assert.Equal(t, Added, m.AddIncoming(peer, incoming))
	assert.True(t, errors.Is(m.SendTo(peer, []byte("DATA")), ErrPeerNotFound), "incoming links do not carry our data")

	outgoing, outRx, outCtx := NewLink(context.Background())
	assert.Equal(t, Added, m.AddOutgoing(peer, outgoing))
	require.NoError(t, m.SendTo(peer, []byte("DATA")))
	got, err := recvWithin(t, outRx)
	require.NoError(t, err)
	assert.Equal(t, "DATA", string(got))

	replacement, _, _ := NewLink(context.Background())
	assert.Equal(t, Replaced, m.AddIncoming(peer, replacement))
	assert.True(t, incoming.IsClosed())

	m.UnmarkLegacy(peer)
	assert.False(t, m.IsLegacy(peer))
	assert.Error(t, outCtx.Err(), "legacy links closed when unmarking")
	_, ok = m.PeerAddress(peer)
	assert.False(t, ok, "back to waiting for the peer to dial")
}

func TestManager_LegacyUninterested(t *testing.T) {
	m := NewManager(randomKey(t))
	peer := randomKey(t)

	in, _, _ := NewLink(context.Background())
	out, _, _ := NewLink(context.Background())
	assert.Equal(t, Uninterested, m.AddIncoming(peer, in))
	assert.Equal(t, Uninterested, m.AddOutgoing(peer, out))
	assert.True(t, in.IsClosed())
	assert.True(t, out.IsClosed())
}

func TestManager_CountsAndClose(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	a, b, c := randomKey(t), randomKey(t), randomKey(t)
	for _, k := range []crypto.PublicKey{a, b, c} {
		m.AddPeer(k, testAddress)
	}
	m.MarkLegacy(c)

	link, _, linkCtx := NewLink(context.Background())
	m.AddConnection(a, link)
	out, _, _ := NewLink(context.Background())
	m.AddOutgoing(c, out)

	assert.Equal(t, map[ConnectionClass]int{Bidirectional: 2, Unidirectional: 1}, m.Peers())
	assert.Equal(t, map[ConnectionClass]int{Bidirectional: 1, Unidirectional: 1}, m.Connected())

	class, ok := m.Class(c)
	assert.True(t, ok)
	assert.Equal(t, Unidirectional, class)

	snapshot := m.Snapshot()
	require.Len(t, snapshot, 3)
	for i := 1; i < len(snapshot); i++ {
		assert.Negative(t, snapshot[i-1].PublicKey.Compare(snapshot[i].PublicKey))
	}

	m.Close()
	assert.Error(t, linkCtx.Err())
	assert.True(t, out.IsClosed())
	assert.Equal(t, map[ConnectionClass]int{Bidirectional: 0, Unidirectional: 0}, m.Peers())
}

func TestManager_StatusReport(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	assert.Equal(t, "not maintaining any connections; ", m.StatusReport())
	assert.Equal(t, "not maintaining any connections; ", m.LegacyStatusReport())

	out := keyWithDirection(t, own, true)
	m.AddPeer(out, testAddress)
	assert.Equal(t,
		"not expecting any incoming connections; attempting 1 outgoing connections; missing - 1 ["+out.ShortString()+"]; ",
		m.StatusReport())

	link, _, _ := NewLink(context.Background())
	m.AddConnection(out, link)
	assert.Equal(t,
		"not expecting any incoming connections; attempting 1 outgoing connections; have - 1 ["+out.ShortString()+"]; ",
		m.StatusReport())

	in := keyWithDirection(t, own, false)
	m.AddPeer(in, testAddress)
	report := m.StatusReport()
	assert.True(t, strings.HasPrefix(report, "expecting 1 incoming connections; WARNING! No incoming peers"), report)
	assert.Contains(t, report, "missing - 1 ["+in.ShortString()+"]; ")
	assert.Contains(t, report, "attempting 1 outgoing connections; have - 1 ")
}

func TestManager_LegacyStatusReport(t *testing.T) {
	own := randomKey(t)
	m := NewManager(own)
	both, inOnly, missing := randomKey(t), randomKey(t), randomKey(t)
	for _, k := range []crypto.PublicKey{both, inOnly, missing} {
		m.AddPeer(k, testAddress)
		m.MarkLegacy(k)
	}
	for _, k := range []crypto.PublicKey{both, inOnly} {
		in, _, _ := NewLink(context.Background())
		m.AddIncoming(k, in)
	}
	out, _, _ := NewLink(context.Background())
	m.AddOutgoing(both, out)

	report := m.LegacyStatusReport()
	assert.True(t, strings.HasPrefix(report, "target - 3 connections; "), report)
	assert.NotContains(t, report, "WARNING")
	assert.Contains(t, report, "both ways - 1 ["+both.ShortString()+"]; ")
	assert.Contains(t, report, "incoming only - 1 ["+inOnly.ShortString()+"]; ")
	assert.Contains(t, report, "missing - 1 ["+missing.ShortString()+"]; ")
	assert.NotContains(t, report, "outgoing only")

	// Only bidirectional peers appear in the main report.
	assert.Equal(t, "not maintaining any connections; ", m.StatusReport())
}

func TestLink_ConcurrentSendAndClose(t *testing.T) {
	link, rx, _ := NewLink(context.Background())

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if err := link.Send([]byte("x")); err != nil {
					assert.True(t, errors.Is(err, ErrConnectionClosed))
					return
				}
			}
		}()
	}
	link.Close()
	wg.Wait()

	assert.True(t, link.IsClosed())
	assert.True(t, errors.Is(link.Send([]byte("x")), ErrConnectionClosed))
	select {
	case <-link.Done():
	default:
		t.Error("Done() not closed after Close()")
	}

	for {
		_, err := recvWithin(t, rx)
		if err != nil {
			assert.True(t, errors.Is(err, io.EOF))
			break
		}
	}
}
