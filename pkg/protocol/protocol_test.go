package protocol

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/blockberries/clique/internal/testutil"
	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/streams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	heartbeatInterval = 20 * time.Millisecond
	os.Exit(m.Run())
}

type endpoint struct {
	results unbounded.Receiver[Result]
	data    unbounded.Receiver[[]byte]
	ch      Channels
	metrics *countingMetrics
}

func newEndpoint() *endpoint {
	resultsTx, resultsRx := unbounded.New[Result]()
	dataTx, dataRx := unbounded.New[[]byte]()
	m := &countingMetrics{}
	return &endpoint{
		results: resultsRx,
		data:    dataRx,
		ch:      Channels{Results: resultsTx, Data: dataTx, Metrics: m},
		metrics: m,
	}
}

func (e *endpoint) result(t *testing.T) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := e.results.Recv(ctx)
	require.NoError(t, err, "no result reported")
	return res
}

func (e *endpoint) received(t *testing.T) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := e.data.Recv(ctx)
	require.NoError(t, err, "no data received")
	return data
}

type countingMetrics struct {
	mu       sync.Mutex
	sent     int
	received int
}

func (m *countingMetrics) MessageSent(_ string, bytes int) {
	m.mu.Lock()
	m.sent += bytes
	m.mu.Unlock()
}

func (m *countingMetrics) MessageReceived(_ string, bytes int) {
	m.mu.Lock()
	m.received += bytes
	m.mu.Unlock()
}

func (m *countingMetrics) totals() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.received
}

type runner func(context.Context, Protocol, *streams.Sender, *streams.Receiver, crypto.PublicKey, Channels) error

func start(ctx context.Context, run runner, version Protocol, conn *streams.Conn, peer crypto.PublicKey, ch Channels) <-chan error {
	done := make(chan error, 1)
	sender, receiver := conn.Split()
	go func() { done <- run(ctx, version, sender, receiver, peer, ch) }()
	return done
}

func requireRunning(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("connection finished unexpectedly: %v", err)
	default:
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not finish")
		return nil
	}
}

func TestV1_SendBothWays(t *testing.T) {
	outKey, inKey := testutil.SecretKey(t).PublicKey(), testutil.SecretKey(t).PublicKey()
	a, b := testutil.TCPPair(t)
	outgoing, incoming := newEndpoint(), newEndpoint()

	outDone := start(context.Background(), RunOutgoing, V1, streams.NewConn(a), inKey, outgoing.ch)
	inDone := start(context.Background(), RunIncoming, V1, streams.NewConn(b), outKey, incoming.ch)

	outRes := outgoing.result(t)
	assert.Equal(t, inKey, outRes.PeerID)
	assert.Equal(t, New, outRes.Type)
	inRes := incoming.result(t)
	assert.Equal(t, outKey, inRes.PeerID)
	assert.Equal(t, New, inRes.Type)

	require.NoError(t, outRes.Link.Send([]byte("DATA")))
	require.NoError(t, outRes.Link.Send([]byte("MORE")))
	assert.Equal(t, []byte("DATA"), incoming.received(t))
	assert.Equal(t, []byte("MORE"), incoming.received(t))

	require.NoError(t, inRes.Link.Send([]byte("BACK")))
	assert.Equal(t, []byte("BACK"), outgoing.received(t))

	sent, _ := outgoing.metrics.totals()
	assert.Equal(t, 8, sent)

	// Idle connections survive on heartbeats alone.
	time.Sleep(10 * heartbeatInterval)
	requireRunning(t, outDone)
	requireRunning(t, inDone)

	outRes.Link.Close()
	assert.True(t, errors.Is(waitDone(t, outDone), ErrLinkClosed))
	err := waitDone(t, inDone)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrLinkClosed), "the peer's link was not closed by its service")
}

func TestV1_CardiacArrest(t *testing.T) {
	a, _ := testutil.TCPPair(t)
	e := newEndpoint()

	done := start(context.Background(), RunOutgoing, V1, streams.NewConn(a), testutil.SecretKey(t).PublicKey(), e.ch)
	res := e.result(t)
	assert.True(t, errors.Is(waitDone(t, done), ErrCardiacArrest))
	assert.True(t, res.Link.IsClosed(), "link closed when the worker exits")
}

func TestV1_ParentCancelled(t *testing.T) {
	a, b := testutil.TCPPair(t)
	outgoing, incoming := newEndpoint(), newEndpoint()
	ctx, cancel := context.WithCancel(context.Background())

	outDone := start(ctx, RunOutgoing, V1, streams.NewConn(a), testutil.SecretKey(t).PublicKey(), outgoing.ch)
	start(context.Background(), RunIncoming, V1, streams.NewConn(b), testutil.SecretKey(t).PublicKey(), incoming.ch)
	outgoing.result(t)

	cancel()
	assert.True(t, errors.Is(waitDone(t, outDone), ErrLinkClosed))
}

func TestRun_NoParentConnection(t *testing.T) {
	a, _ := testutil.TCPPair(t)
	e := newEndpoint()
	e.results.Close()

	done := start(context.Background(), RunOutgoing, V1, streams.NewConn(a), testutil.SecretKey(t).PublicKey(), e.ch)
	assert.True(t, errors.Is(waitDone(t, done), ErrNoParentConnection))
}

func TestRun_NoUserConnection(t *testing.T) {
	a, b := testutil.TCPPair(t)
	outgoing, incoming := newEndpoint(), newEndpoint()
	incoming.data.Close()

	start(context.Background(), RunOutgoing, V1, streams.NewConn(a), testutil.SecretKey(t).PublicKey(), outgoing.ch)
	inDone := start(context.Background(), RunIncoming, V1, streams.NewConn(b), testutil.SecretKey(t).PublicKey(), incoming.ch)

	require.NoError(t, outgoing.result(t).Link.Send([]byte("DATA")))
	assert.True(t, errors.Is(waitDone(t, inDone), ErrNoUserConnection))
}

func TestRun_UnknownVersion(t *testing.T) {
	a, _ := testutil.TCPPair(t)
	sender, receiver := streams.NewConn(a).Split()
	err := RunOutgoing(context.Background(), Protocol(9), sender, receiver, crypto.PublicKey{}, newEndpoint().ch)
	assert.True(t, errors.Is(err, ErrBadChoice))
	err = RunIncoming(context.Background(), Protocol(9), sender, receiver, crypto.PublicKey{}, newEndpoint().ch)
	assert.True(t, errors.Is(err, ErrBadChoice))
}

func TestV0_Legacy(t *testing.T) {
	a, b := testutil.TCPPair(t)
	outgoing, incoming := newEndpoint(), newEndpoint()

	outDone := start(context.Background(), RunOutgoing, V0, streams.NewConn(a), testutil.SecretKey(t).PublicKey(), outgoing.ch)
	inDone := start(context.Background(), RunIncoming, V0, streams.NewConn(b), testutil.SecretKey(t).PublicKey(), incoming.ch)

	outRes := outgoing.result(t)
	assert.Equal(t, LegacyOutgoing, outRes.Type)
	inRes := incoming.result(t)
	assert.Equal(t, LegacyIncoming, inRes.Type)

	require.NoError(t, outRes.Link.Send([]byte("DATA")))
	assert.Equal(t, []byte("DATA"), incoming.received(t))

	// The dialing side relies on heartbeats from the incoming side.
	time.Sleep(10 * heartbeatInterval)
	requireRunning(t, outDone)
	requireRunning(t, inDone)

	// Closing the incoming link is the exit signal.
	inRes.Link.Close()
	assert.True(t, errors.Is(waitDone(t, inDone), ErrLinkClosed))
	assert.Error(t, waitDone(t, outDone))
}

func TestV0_OutgoingCardiacArrest(t *testing.T) {
	a, _ := testutil.TCPPair(t)
	e := newEndpoint()

	done := start(context.Background(), RunOutgoing, V0, streams.NewConn(a), testutil.SecretKey(t).PublicKey(), e.ch)
	e.result(t)
	assert.True(t, errors.Is(waitDone(t, done), ErrCardiacArrest))
}

func TestV0_IncomingPeerGone(t *testing.T) {
	a, b := testutil.TCPPair(t)
	e := newEndpoint()

	done := start(context.Background(), RunIncoming, V0, streams.NewConn(b), testutil.SecretKey(t).PublicKey(), e.ch)
	e.result(t)
	require.NoError(t, a.Close())

	err := waitDone(t, done)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrLinkClosed))
}

func TestConnectionType(t *testing.T) {
	assert.False(t, New.IsLegacy())
	assert.True(t, LegacyIncoming.IsLegacy())
	assert.True(t, LegacyOutgoing.IsLegacy())
	assert.Equal(t, "LegacyOutgoing", LegacyOutgoing.String())
	assert.Equal(t, "v1", V1.String())
}
