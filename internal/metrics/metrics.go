// Package metrics exposes signaling counters via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Join rejection reasons.
const (
	RejectFull      = "room_full"
	RejectInvalid   = "invalid_request"
	RejectDuplicate = "duplicate_session"
)

type Metrics struct {
	Joins          prometheus.Counter
	JoinRejections *prometheus.CounterVec
	Forwards       *prometheus.CounterVec
	ProtocolErrors prometheus.Counter
	ActiveSessions prometheus.Gauge
	Rooms          prometheus.Gauge
}

// New registers the signaling metric set on reg. Each server instance owns
// its own registry so tests can construct metrics freely.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Joins: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_joins_total",
			Help: "Sessions admitted into a room.",
		}),
		JoinRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_join_rejections_total",
			Help: "Join attempts rejected, by reason.",
		}, []string{"reason"}),
		Forwards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_forwards_total",
			Help: "Negotiation messages forwarded between peers, by type.",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_protocol_errors_total",
			Help: "Malformed or schema-violating inbound frames.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_active_sessions",
			Help: "Sessions currently bound to a room.",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_rooms",
			Help: "Rooms currently resident.",
		}),
	}
}
