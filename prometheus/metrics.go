// Package prometheus provides a Prometheus implementation of the clique.Metrics interface.
//
// # Metric Names
//
// All metrics use the configured namespace prefix (default: "clique").
//
// # Counters
//
//	clique_connection_attempts_total{direction="inbound|outbound",result="success|failure"}
//	clique_connections_opened_total{direction="inbound|outbound",protocol="v0|v1"}
//	clique_connections_closed_total{direction="inbound|outbound",protocol="v0|v1"}
//	clique_negotiation_results_total{result="v0|v1|mismatch|invalid_range|bad_choice|closed|timeout"}
//	clique_handshake_results_total{result="success|failure|timeout|unauthorized"}
//	clique_add_results_total{class="bidirectional|unidirectional",result="added|replaced|uninterested"}
//	clique_messages_sent_total{protocol="v0|v1"}
//	clique_messages_received_total{protocol="v0|v1"}
//	clique_bytes_sent_total{protocol="v0|v1"}
//	clique_bytes_received_total{protocol="v0|v1"}
//	clique_send_failures_total{reason="peer_not_found|connection_closed"}
//
// # Histograms
//
//	clique_handshake_duration_seconds
//
// # Gauges
//
//	clique_peers_wanted{class="bidirectional|unidirectional"}
//	clique_peers_connected{class="bidirectional|unidirectional"}
//	clique_active_workers{direction="inbound|outbound"}
//
// # Example Usage
//
//	metrics := prommetrics.NewMetrics("validator_network")
//	svc, iface, err := clique.NewService(dialer, listener, key,
//	    clique.WithMetrics(metrics),
//	)
//	http.Handle("/metrics", promhttp.Handler())
package prometheus

import (
	"github.com/blockberries/clique"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the default namespace for all metrics.
const DefaultNamespace = "clique"

// Metrics implements the clique.Metrics interface using Prometheus metrics.
//
// Metrics is safe for concurrent use.
type Metrics struct {
	// Connection metrics
	connectionAttempts *prometheus.CounterVec
	connectionsOpened  *prometheus.CounterVec
	connectionsClosed  *prometheus.CounterVec
	activeWorkers      *prometheus.GaugeVec

	// Negotiation and handshake metrics
	negotiationResults *prometheus.CounterVec
	handshakeDuration  prometheus.Histogram
	handshakeResults   *prometheus.CounterVec

	// Manager metrics
	addResults     *prometheus.CounterVec
	peersWanted    *prometheus.GaugeVec
	peersConnected *prometheus.GaugeVec

	// Message metrics
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
}

// Ensure Metrics implements clique.Metrics.
var _ clique.Metrics = (*Metrics)(nil)

// NewMetrics creates a new Prometheus metrics collector with the given namespace.
// If namespace is empty, DefaultNamespace ("clique") is used.
//
// All metrics are registered with the default Prometheus registry. If
// registration fails (e.g., metrics already registered), this function
// panics. Use NewMetricsWithRegisterer with a custom registry to avoid that.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Prometheus metrics collector with the given
// namespace and registerer.
//
// If namespace is empty, DefaultNamespace ("clique") is used.
// If registerer is nil, metrics will not be registered automatically.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		connectionAttempts: counterVec("connection_attempts_total",
			"Total number of dials and accepts by direction and result", "direction", "result"),
		connectionsOpened: counterVec("connections_opened_total",
			"Total number of connections handed to the service", "direction", "protocol"),
		connectionsClosed: counterVec("connections_closed_total",
			"Total number of established connections that ended", "direction", "protocol"),
		activeWorkers: gaugeVec("active_workers",
			"Current number of running connection workers", "direction"),
		negotiationResults: counterVec("negotiation_results_total",
			"Total number of version negotiations by outcome", "result"),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Histogram of successful handshake durations",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		handshakeResults: counterVec("handshake_results_total",
			"Total number of handshake results by outcome", "result"),
		addResults: counterVec("add_results_total",
			"Total number of established links offered to the manager by outcome", "class", "result"),
		peersWanted: gaugeVec("peers_wanted",
			"Current number of wanted peers by connection class", "class"),
		peersConnected: gaugeVec("peers_connected",
			"Current number of connected peers by connection class", "class"),
		messagesSent: counterVec("messages_sent_total",
			"Total number of data messages sent by protocol", "protocol"),
		messagesReceived: counterVec("messages_received_total",
			"Total number of data messages received by protocol", "protocol"),
		bytesSent: counterVec("bytes_sent_total",
			"Total data bytes sent by protocol", "protocol"),
		bytesReceived: counterVec("bytes_received_total",
			"Total data bytes received by protocol", "protocol"),
		sendFailures: counterVec("send_failures_total",
			"Total number of user messages that could not be queued by reason", "reason"),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.connectionAttempts,
			m.connectionsOpened,
			m.connectionsClosed,
			m.activeWorkers,
			m.negotiationResults,
			m.handshakeDuration,
			m.handshakeResults,
			m.addResults,
			m.peersWanted,
			m.peersConnected,
			m.messagesSent,
			m.messagesReceived,
			m.bytesSent,
			m.bytesReceived,
			m.sendFailures,
		)
	}

	return m
}

// ConnectionAttempt implements clique.Metrics.
func (m *Metrics) ConnectionAttempt(direction, result string) {
	m.connectionAttempts.WithLabelValues(direction, result).Inc()
}

// ConnectionOpened implements clique.Metrics.
func (m *Metrics) ConnectionOpened(direction, protocol string) {
	m.connectionsOpened.WithLabelValues(direction, protocol).Inc()
}

// ConnectionClosed implements clique.Metrics.
func (m *Metrics) ConnectionClosed(direction, protocol string) {
	m.connectionsClosed.WithLabelValues(direction, protocol).Inc()
}

// WorkerStarted implements clique.Metrics.
func (m *Metrics) WorkerStarted(direction string) {
	m.activeWorkers.WithLabelValues(direction).Inc()
}

// WorkerStopped implements clique.Metrics.
func (m *Metrics) WorkerStopped(direction string) {
	m.activeWorkers.WithLabelValues(direction).Dec()
}

// NegotiationResult implements clique.Metrics.
func (m *Metrics) NegotiationResult(result string) {
	m.negotiationResults.WithLabelValues(result).Inc()
}

// HandshakeDuration implements clique.Metrics.
func (m *Metrics) HandshakeDuration(seconds float64) {
	m.handshakeDuration.Observe(seconds)
}

// HandshakeResult implements clique.Metrics.
func (m *Metrics) HandshakeResult(result string) {
	m.handshakeResults.WithLabelValues(result).Inc()
}

// AddResult implements clique.Metrics.
func (m *Metrics) AddResult(class, result string) {
	m.addResults.WithLabelValues(class, result).Inc()
}

// PeersWanted implements clique.Metrics.
func (m *Metrics) PeersWanted(class string, n int) {
	m.peersWanted.WithLabelValues(class).Set(float64(n))
}

// PeersConnected implements clique.Metrics.
func (m *Metrics) PeersConnected(class string, n int) {
	m.peersConnected.WithLabelValues(class).Set(float64(n))
}

// MessageSent implements clique.Metrics.
func (m *Metrics) MessageSent(protocol string, bytes int) {
	m.messagesSent.WithLabelValues(protocol).Inc()
	m.bytesSent.WithLabelValues(protocol).Add(float64(bytes))
}

// MessageReceived implements clique.Metrics.
func (m *Metrics) MessageReceived(protocol string, bytes int) {
	m.messagesReceived.WithLabelValues(protocol).Inc()
	m.bytesReceived.WithLabelValues(protocol).Add(float64(bytes))
}

// SendFailed implements clique.Metrics.
func (m *Metrics) SendFailed(reason string) {
	m.sendFailures.WithLabelValues(reason).Inc()
}
