// Package otel provides OpenTelemetry tracing for clique connection
// attempts.
//
// # Span Hierarchy
//
// Every connection attempt is a root span with a child per phase:
//
//	clique.connect                 (one per worker)
//	├── clique.dial                (outbound connections only)
//	├── clique.negotiate
//	└── clique.handshake
//
// # Attributes
//
//   - peer.id: the remote peer's libp2p ID, once known
//   - connection.direction: "inbound" or "outbound"
//   - protocol.version: the negotiated protocol, e.g. "v1"
//   - handshake.result: "success", "failure", "timeout" or "unauthorized"
//
// # Example Usage
//
//	tp := sdktrace.NewTracerProvider(...)
//	svc, iface, err := clique.NewService(dialer, listener, key,
//	    clique.WithTracer(cliqueotel.NewTracer(tp)),
//	)
package otel

import (
	"context"

	"github.com/blockberries/clique/pkg/crypto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the OpenTelemetry tracer.
	TracerName = "github.com/blockberries/clique"

	// Span names
	SpanConnect   = "clique.connect"
	SpanDial      = "clique.dial"
	SpanNegotiate = "clique.negotiate"
	SpanHandshake = "clique.handshake"

	// Attribute keys
	AttrPeerID              = "peer.id"
	AttrConnectionDirection = "connection.direction"
	AttrProtocolVersion     = "protocol.version"
	AttrHandshakeResult     = "handshake.result"
	AttrErrorMessage        = "error.message"
)

// Tracer creates spans for connection attempts.
//
// Tracer is safe for concurrent use.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the given TracerProvider.
// If provider is nil, a no-op tracer is used.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}
	}
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

// PeerAttribute returns the peer.id attribute for pk.
func PeerAttribute(pk crypto.PublicKey) attribute.KeyValue {
	id, err := pk.PeerID()
	if err != nil {
		return attribute.String(AttrPeerID, pk.String())
	}
	return attribute.String(AttrPeerID, id.String())
}

// StartConnect starts the root span of a connection attempt. The peer is
// unknown for inbound attempts until the handshake, see SetPeer.
func (t *Tracer) StartConnect(ctx context.Context, direction string) (context.Context, trace.Span) {
	kind := trace.SpanKindClient
	if direction == "inbound" {
		kind = trace.SpanKindServer
	}
	return t.tracer.Start(ctx, SpanConnect,
		trace.WithAttributes(attribute.String(AttrConnectionDirection, direction)),
		trace.WithSpanKind(kind),
	)
}

// StartDial starts a span for dialing a peer.
func (t *Tracer) StartDial(ctx context.Context, pk crypto.PublicKey, address string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDial,
		trace.WithAttributes(
			PeerAttribute(pk),
			attribute.String("net.peer.addresses", address),
		),
	)
}

// StartNegotiate starts a span for the version negotiation.
func (t *Tracer) StartNegotiate(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNegotiate)
}

// StartHandshake starts a span for the handshake.
func (t *Tracer) StartHandshake(ctx context.Context, version string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanHandshake,
		trace.WithAttributes(attribute.String(AttrProtocolVersion, version)),
	)
}

// SetPeer records the peer on span once it is known.
func (t *Tracer) SetPeer(span trace.Span, pk crypto.PublicKey) {
	span.SetAttributes(PeerAttribute(pk))
}

// SetProtocol records the negotiated protocol on span.
func (t *Tracer) SetProtocol(span trace.Span, version string) {
	span.SetAttributes(attribute.String(AttrProtocolVersion, version))
}

// RecordHandshakeResult records the result of a handshake on the given span.
func (t *Tracer) RecordHandshakeResult(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String(AttrHandshakeResult, result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// EndSpan ends a span, optionally recording an error.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
