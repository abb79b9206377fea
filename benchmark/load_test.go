package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/blockberries/clique"
	"github.com/blockberries/clique/internal/testutil"
	"github.com/blockberries/clique/internal/unbounded"
	"github.com/blockberries/clique/pkg/connection"
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/protocol"
	"github.com/blockberries/clique/pkg/streams"
	"github.com/blockberries/clique/pkg/transport"
)

// Load Testing
// These benchmarks measure throughput of the connection layer and help
// identify bottlenecks.

type benchNode struct {
	key   *crypto.SecretKey
	addr  transport.Address
	iface *clique.Interface
}

func startBenchNode(b *testing.B, network *testutil.Network, key *crypto.SecretKey, addr string) *benchNode {
	b.Helper()
	address := transport.MustParseAddress(addr)
	svc, iface, err := clique.NewService(network.Dialer(), network.Listen(address), key)
	if err != nil {
		b.Fatalf("NewService failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	b.Cleanup(func() {
		cancel()
		<-done
	})
	return &benchNode{key: key, addr: address, iface: iface}
}

// connectedPair starts two services that want each other and waits until
// data flows from the first to the second.
func connectedPair(b *testing.B) (*benchNode, *benchNode) {
	b.Helper()
	network := testutil.NewNetwork()
	keyA, keyB := testutil.SecretKey(b), testutil.SecretKey(b)
	if !connection.ShouldWeDial(keyA.PublicKey(), keyB.PublicKey()) {
		keyA, keyB = keyB, keyA
	}
	a := startBenchNode(b, network, keyA, "/ip4/10.0.0.1/tcp/30343")
	c := startBenchNode(b, network, keyB, "/ip4/10.0.0.2/tcp/30343")
	a.iface.AddConnection(keyB.PublicKey(), c.addr)
	c.iface.AddConnection(keyA.PublicKey(), a.addr)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		a.iface.Send([]byte("ping"), keyB.PublicKey())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, err := c.iface.Next(ctx)
		cancel()
		if err == nil {
			// Drain pings that are still in flight.
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				_, err := c.iface.Next(ctx)
				cancel()
				if err != nil {
					return a, c
				}
			}
		}
	}
	b.Fatal("services never connected")
	return nil, nil
}

// BenchmarkServiceThroughput measures end-to-end delivery through two
// services for several payload sizes.
func BenchmarkServiceThroughput(b *testing.B) {
	for _, size := range []int{64, 1024, 64 * 1024} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			sender, receiver := connectedPair(b)
			payload := make([]byte, size)
			ctx := context.Background()

			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				sender.iface.Send(payload, receiver.key.PublicKey())
				if _, err := receiver.iface.Next(ctx); err != nil {
					b.Fatalf("Next failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkHandshake measures a full challenge/response exchange over
// loopback TCP.
func BenchmarkHandshake(b *testing.B) {
	initiator, responder := testutil.SecretKey(b), testutil.SecretKey(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		dialed, accepted := testutil.TCPPair(b)
		b.StartTimer()

		errs := make(chan error, 1)
		go func() {
			_, _, _, err := protocol.HandshakeResponder(ctx, streams.NewConn(accepted), responder)
			errs <- err
		}()
		if _, _, err := protocol.HandshakeInitiator(ctx, streams.NewConn(dialed), initiator, responder.PublicKey()); err != nil {
			b.Fatalf("initiator failed: %v", err)
		}
		if err := <-errs; err != nil {
			b.Fatalf("responder failed: %v", err)
		}
	}
}

// BenchmarkUnboundedQueue measures the queue every message passes through.
func BenchmarkUnboundedQueue(b *testing.B) {
	tx, rx := unbounded.New[[]byte]()
	payload := []byte("DATA")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tx.Send(payload)
		if _, err := rx.Recv(ctx); err != nil {
			b.Fatalf("Recv failed: %v", err)
		}
	}
}

// BenchmarkNegotiation measures version negotiation over loopback TCP.
func BenchmarkNegotiation(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		dialed, accepted := testutil.TCPPair(b)
		b.StartTimer()

		errs := make(chan error, 1)
		go func() {
			_, err := protocol.Negotiate(ctx, accepted, protocol.SupportedRange())
			errs <- err
		}()
		if _, err := protocol.Negotiate(ctx, dialed, protocol.SupportedRange()); err != nil {
			b.Fatalf("negotiation failed: %v", err)
		}
		if err := <-errs; err != nil {
			b.Fatalf("negotiation failed: %v", err)
		}
	}
}
