package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warpcall"

// Drop reasons for the messages_dropped_total counter.
const (
	DropReasonRateLimited  = "rate_limited"
	DropReasonSlowConsumer = "slow_consumer"
	DropReasonNoTarget     = "no_target"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	rooms        prometheus.Gauge
	participants prometheus.Gauge
	connections  prometheus.Counter
	relayed      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one participant.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Participants currently joined to a room.",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Signaling websocket connections accepted.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages delivered to participants, by message type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages that were not delivered, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.rooms,
		m.participants,
		m.connections,
		m.relayed,
		m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) SetParticipants(n int) {
	if m == nil {
		return
	}
	m.participants.Set(float64(n))
}

func (m *Metrics) IncConnections() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) IncRelayed(msgType string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Handler exposes the registry in Prometheus' text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
