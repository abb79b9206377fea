package clique

// Metrics defines the metrics collection interface for the service.
// It is designed to be compatible with Prometheus and other metrics systems.
//
// Implementations must be safe for concurrent use.
//
// Metric naming convention:
//   - Counters: <name>_total (e.g., connection_attempts_total)
//   - Histograms: <name>_seconds (e.g., handshake_duration_seconds)
//   - Gauges: plain nouns (e.g., peers_wanted)
type Metrics interface {
	// Connection metrics

	// ConnectionAttempt records the outcome of a dial or accept.
	// Labels: direction (inbound, outbound), result (success, failure)
	ConnectionAttempt(direction, result string)

	// ConnectionOpened increments when a connection is handed to the service.
	// Labels: direction (inbound, outbound), protocol (v0, v1)
	ConnectionOpened(direction, protocol string)

	// ConnectionClosed increments when an established connection ends.
	// Labels: direction (inbound, outbound), protocol (v0, v1)
	ConnectionClosed(direction, protocol string)

	// WorkerStarted and WorkerStopped track running connection workers.
	// Labels: direction (inbound, outbound)
	WorkerStarted(direction string)
	WorkerStopped(direction string)

	// Negotiation and handshake metrics

	// NegotiationResult records a version negotiation.
	// Labels: result (v0, v1, mismatch, invalid_range, bad_choice, closed, timeout)
	NegotiationResult(result string)

	// HandshakeDuration records the duration of a successful handshake.
	HandshakeDuration(seconds float64)

	// HandshakeResult records the result of a handshake attempt.
	// Labels: result (success, failure, timeout, unauthorized)
	HandshakeResult(result string)

	// Manager metrics

	// AddResult records how the manager treated an established link.
	// Labels: class (bidirectional, unidirectional), result (added, replaced, uninterested)
	AddResult(class, result string)

	// PeersWanted and PeersConnected publish the peer table per class.
	// Labels: class (bidirectional, unidirectional)
	PeersWanted(class string, n int)
	PeersConnected(class string, n int)

	// Message metrics

	// MessageSent records a data message written to a peer.
	// Labels: protocol (v0, v1)
	MessageSent(protocol string, bytes int)

	// MessageReceived records a data message read from a peer.
	// Labels: protocol (v0, v1)
	MessageReceived(protocol string, bytes int)

	// SendFailed records data that could not be queued for a peer.
	// Labels: reason (peer_not_found, connection_closed)
	SendFailed(reason string)
}

// NopMetrics is a no-op metrics implementation that discards all metrics.
// It is the default when no metrics collector is configured.
type NopMetrics struct{}

// Ensure NopMetrics implements Metrics.
var _ Metrics = NopMetrics{}

// ConnectionAttempt implements Metrics.ConnectionAttempt (no-op).
func (NopMetrics) ConnectionAttempt(direction, result string) {}

// ConnectionOpened implements Metrics.ConnectionOpened (no-op).
func (NopMetrics) ConnectionOpened(direction, protocol string) {}

// ConnectionClosed implements Metrics.ConnectionClosed (no-op).
func (NopMetrics) ConnectionClosed(direction, protocol string) {}

// WorkerStarted implements Metrics.WorkerStarted (no-op).
func (NopMetrics) WorkerStarted(direction string) {}

// WorkerStopped implements Metrics.WorkerStopped (no-op).
func (NopMetrics) WorkerStopped(direction string) {}

// NegotiationResult implements Metrics.NegotiationResult (no-op).
func (NopMetrics) NegotiationResult(result string) {}

// HandshakeDuration implements Metrics.HandshakeDuration (no-op).
func (NopMetrics) HandshakeDuration(seconds float64) {}

// HandshakeResult implements Metrics.HandshakeResult (no-op).
func (NopMetrics) HandshakeResult(result string) {}

// AddResult implements Metrics.AddResult (no-op).
func (NopMetrics) AddResult(class, result string) {}

// PeersWanted implements Metrics.PeersWanted (no-op).
func (NopMetrics) PeersWanted(class string, n int) {}

// PeersConnected implements Metrics.PeersConnected (no-op).
func (NopMetrics) PeersConnected(class string, n int) {}

// MessageSent implements Metrics.MessageSent (no-op).
func (NopMetrics) MessageSent(protocol string, bytes int) {}

// MessageReceived implements Metrics.MessageReceived (no-op).
func (NopMetrics) MessageReceived(protocol string, bytes int) {}

// SendFailed implements Metrics.SendFailed (no-op).
func (NopMetrics) SendFailed(reason string) {}
