package clique

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/blockberries/clique/pkg/connection"
)

// statusTimeout bounds how long the HTTP handlers wait for the service.
const statusTimeout = 5 * time.Second

// PeerStatus describes a single wanted peer.
type PeerStatus struct {
	PublicKey string `json:"public_key"`
	PeerID    string `json:"peer_id,omitempty"`
	Class     string `json:"class"`
	WeDial    bool   `json:"we_dial"`
	Address   string `json:"address"`

	// Connected is set for bidirectional peers with a live connection.
	Connected bool `json:"connected"`

	// Incoming and Outgoing are set for legacy peers with live
	// connections in the respective direction.
	Incoming bool `json:"incoming,omitempty"`
	Outgoing bool `json:"outgoing,omitempty"`
}

// Status is a snapshot of a running service.
type Status struct {
	PublicKey string         `json:"public_key"`
	Peers     []PeerStatus   `json:"peers"`
	Wanted    map[string]int `json:"wanted"`
	Connected map[string]int `json:"connected"`

	// Report and LegacyReport are the periodic status log lines.
	Report       string `json:"report"`
	LegacyReport string `json:"legacy_report"`

	CapturedAt time.Time `json:"captured_at"`
}

func (s *Service) status() *Status {
	snapshot := s.manager.Snapshot()
	peers := make([]PeerStatus, 0, len(snapshot))
	for _, p := range snapshot {
		ps := PeerStatus{
			PublicKey: p.PublicKey.String(),
			Class:     p.Class.Label(),
			WeDial:    p.WeDial,
			Address:   p.Address,
			Connected: p.Connected,
			Incoming:  p.Incoming,
			Outgoing:  p.Outgoing,
		}
		if id, err := p.PublicKey.PeerID(); err == nil {
			ps.PeerID = id.String()
		}
		peers = append(peers, ps)
	}
	return &Status{
		PublicKey:    s.own.String(),
		Peers:        peers,
		Wanted:       classCounts(s.manager.Peers()),
		Connected:    classCounts(s.manager.Connected()),
		Report:       s.manager.StatusReport(),
		LegacyReport: s.manager.LegacyStatusReport(),
		CapturedAt:   s.cfg.Clock.Now(),
	}
}

func classCounts(counts map[connection.ConnectionClass]int) map[string]int {
	out := make(map[string]int, len(counts))
	for class, n := range counts {
		out[class.Label()] = n
	}
	return out
}

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// HealthStatus represents the overall health of the service.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// Health runs the readiness checks against a service:
//   - service_running: the service answers status requests
//   - connections: how many wanted peers are connected (informational)
func (i *Interface) Health(ctx context.Context) HealthStatus {
	health := HealthStatus{
		Healthy:   true,
		Checks:    make([]CheckResult, 0, 2),
		Timestamp: time.Now(),
	}

	status, err := i.Status(ctx)
	running := err == nil
	msg := "service is running"
	if !running {
		msg = err.Error()
		health.Healthy = false
	}
	health.Checks = append(health.Checks, CheckResult{
		Name:    "service_running",
		Healthy: running,
		Message: msg,
	})

	if running {
		wanted, connected := 0, 0
		for _, n := range status.Wanted {
			wanted += n
		}
		for _, n := range status.Connected {
			connected += n
		}
		msg := "no wanted peers"
		switch {
		case wanted > 0 && connected == 0:
			msg = "no wanted peer is connected"
		case wanted > 0:
			msg = "has active connections"
		}
		health.Checks = append(health.Checks, CheckResult{
			Name:    "connections",
			Healthy: true,
			Message: msg,
		})
	}
	return health
}

// HealthHandler returns an http.Handler that serves health check responses:
//   - 200 OK if the service is running
//   - 503 Service Unavailable otherwise
//
// The response body is the JSON representation of HealthStatus.
//
//	http.Handle("/health", clique.HealthHandler(iface))
func HealthHandler(iface *Interface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
		defer cancel()
		health := iface.Health(ctx)

		w.Header().Set("Content-Type", "application/json")
		if health.Healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}

// StatusHandler returns an http.Handler that serves the JSON
// representation of Status.
func StatusHandler(iface *Interface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
		defer cancel()

		status, err := iface.Status(ctx)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrServiceStopped) {
				code = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
}
