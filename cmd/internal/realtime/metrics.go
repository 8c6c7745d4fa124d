package realtime

import (
	v1 "browserjam/shared/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus"
)

// Event outcomes recorded by the broker.
const (
	outcomeOK          = "ok"
	outcomeDuplicate   = "duplicate"
	outcomeUnbound     = "unbound"
	outcomeAnonymous   = "anonymous"
	outcomeInvalid     = "invalid"
	outcomeStoreError  = "store_error"
	outcomeRateLimited = "rate_limited"
	outcomeRejected    = "rejected"
)

// typeUnknown labels every event type outside the protocol.
const typeUnknown = "unknown"

// Metrics holds the broker's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "browserjam",
			Subsystem: "realtime",
			Name:      "connections_open",
			Help:      "Open websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "browserjam",
			Subsystem: "realtime",
			Name:      "rooms_active",
			Help:      "Sessions with at least one connected member.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "browserjam",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Inbound events by type and outcome.",
		}, []string{"type", "outcome"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "browserjam",
			Subsystem: "realtime",
			Name:      "sends_dropped_total",
			Help:      "Outbound envelopes dropped because a send queue was full.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.connections, m.rooms, m.events, m.dropped} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

// event counts one inbound event. typ comes from the client, so only
// protocol types become label values.
func (m *Metrics) event(typ, outcome string) {
	if m == nil {
		return
	}
	if !v1.IsKnown(typ) {
		typ = typeUnknown
	}
	m.events.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) droppedSends(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}
