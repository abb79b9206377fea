/*
Package clique maintains authenticated connections between every pair of
validators in a fixed, but changing, set.

The user names the peers it wants together with their addresses; the
service dials or accepts connections as needed, authenticates them with a
signed challenge, keeps them alive with heartbeats and delivers the data
they carry. Connections that break are redialed with exponential backoff.

# Features

  - Protocol version negotiation with a legacy (V0) fallback
  - Challenge/response authentication of Ed25519 identities
  - One bidirectional connection per pair of peers, dialed by one side
  - Heartbeats and dead-peer detection
  - Non-blocking user interface backed by unbounded queues
  - Status reports, Prometheus metrics and OpenTelemetry tracing

# Quick Start

Create and run a service:

	key, _ := crypto.GenerateSecretKey()
	listener, _ := transport.ListenTCP(listenAddr)

	svc, iface, err := clique.NewService(transport.NewTCPDialer(), listener, key,
		clique.WithLogger(clique.NewZapLogger(zapLogger)),
	)
	if err != nil {
		// Handle error
	}
	go svc.Run(ctx)

Tell it whom to connect with:

	iface.AddConnection(peerKey, transport.MustParseAddress("/ip4/10.0.0.2/tcp/30343"))

Exchange data:

	iface.Send([]byte("hello"), peerKey)

	for {
		data, err := iface.Next(ctx)
		if err == io.EOF {
			break // service stopped
		}
		// Handle data
	}

# Dialing

For a bidirectional connection exactly one side dials. The choice is a
pure function of both public keys, see connection.ShouldWeDial, so both
ends agree without talking. Peers that only speak the legacy protocol need
a connection in each direction and are dialed regardless.

# Architecture

The service goroutine owns all connection state. Accepting, dialing and
every established connection run in goroutines of their own that report
to it through queues:

	Interface ──commands──▶ Service ◀──results── workers ◀──▶ peers
	    ▲                                           │
	    └───────────────────data────────────────────┘

Sub-packages:

  - pkg/protocol: negotiation, handshake and the V0/V1 connection loops
  - pkg/connection: the peer table, dialing direction and backoff
  - pkg/streams: length-prefixed framing of encoded messages
  - pkg/transport: multiaddr addresses and the TCP dialer and listener
  - pkg/crypto: identities and signatures
  - prometheus, otel: metrics and tracing adapters

The cliqued command runs a standalone node from a YAML peer list.

# Thread Safety

All Interface methods are safe for concurrent use, except Next, which must
be called from a single goroutine.
*/
package clique
