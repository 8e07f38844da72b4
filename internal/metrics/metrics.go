// Package metrics exposes Prometheus collectors for the replication services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roost"

type Metrics struct {
	connectionsAccepted prometheus.Counter
	connectionsRefused  prometheus.Counter
	connections         *prometheus.GaugeVec
	disconnects         *prometheus.CounterVec
	datagramsIn         *prometheus.CounterVec
	datagramsOut        *prometheus.CounterVec
	entities            prometheus.Gauge
	rpcsDropped         *prometheus.CounterVec
	tickDuration        prometheus.Histogram
}

// New registers the collectors of one service with registry, labelled with
// the service name.
func New(registry prometheus.Registerer, service string) *Metrics {
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": service}

	return &Metrics{
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_accepted_total",
			Help:        "Connections accepted by the server",
			ConstLabels: labels,
		}),
		connectionsRefused: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_refused_total",
			Help:        "Connections closed on accept because of the connection limit",
			ConstLabels: labels,
		}),
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connections",
			Help:        "Open connections by session state",
			ConstLabels: labels,
		}, []string{"state"}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "disconnects_total",
			Help:        "Dropped connections by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		datagramsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "datagrams_received_total",
			Help:        "Datagrams decoded by type",
			ConstLabels: labels,
		}, []string{"type"}),
		datagramsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "datagrams_sent_total",
			Help:        "Datagrams queued for sending by type",
			ConstLabels: labels,
		}, []string{"type"}),
		entities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "replicated_entities",
			Help:        "Entities in the replication map",
			ConstLabels: labels,
		}),
		rpcsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rpcs_dropped_total",
			Help:        "Remote calls that were not executed by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "tick_duration_seconds",
			Help:        "Time spent in one service update",
			ConstLabels: labels,
			Buckets:     []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
	}
}

func (m *Metrics) ConnectionAccepted() {
	if m != nil {
		m.connectionsAccepted.Inc()
	}
}

func (m *Metrics) ConnectionRefused() {
	if m != nil {
		m.connectionsRefused.Inc()
	}
}

// SetConnections records the number of open connections in state.
func (m *Metrics) SetConnections(state string, n int) {
	if m != nil {
		m.connections.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) Disconnected(reason string) {
	if m != nil {
		m.disconnects.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) DatagramReceived(kind string) {
	if m != nil {
		m.datagramsIn.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DatagramSent(kind string) {
	if m != nil {
		m.datagramsOut.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetEntities(n int) {
	if m != nil {
		m.entities.Set(float64(n))
	}
}

func (m *Metrics) RPCDropped(reason string) {
	if m != nil {
		m.rpcsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveTick(seconds float64) {
	if m != nil {
		m.tickDuration.Observe(seconds)
	}
}
