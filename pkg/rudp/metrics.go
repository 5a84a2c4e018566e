package rudp

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics is the purely observational counter/gauge set of SPEC_FULL.md's
// DOMAIN STACK, grounded on the per-connection Prometheus collector in
// runZeroInc-sockstats/pkg/exporter. It never feeds back into the transport's
// behavior; congestion/flow control stay Non-goals.
type metrics struct {
	packetsSent       prometheus.Counter
	retransmissions   prometheus.Counter
	corruptDropped    prometheus.Counter
	outOfOrderDropped prometheus.Counter
	windowOccupancy   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, connID string) *metrics {
	labels := prometheus.Labels{"conn": connID}
	factory := promauto.With(reg)
	return &metrics{
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rudp",
			Name:        "packets_sent_total",
			Help:        "Datagrams sent on the wire, including retransmissions.",
			ConstLabels: labels,
		}),
		retransmissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rudp",
			Name:        "window_flush_total",
			Help:        "Retransmit-loop iterations that sent a non-empty window, including the first send.",
			ConstLabels: labels,
		}),
		corruptDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rudp",
			Name:        "corrupt_dropped_total",
			Help:        "Datagrams dropped for failing their digest check.",
			ConstLabels: labels,
		}),
		outOfOrderDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rudp",
			Name:        "out_of_order_dropped_total",
			Help:        "DATA packets dropped for arriving out of order or already delivered.",
			ConstLabels: labels,
		}),
		windowOccupancy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rudp",
			Name:        "window_occupancy",
			Help:        "Number of unacknowledged packets currently in the sender's window.",
			ConstLabels: labels,
		}),
	}
}

// MetricsHandler returns an http.Handler serving the default Prometheus
// registry, for wiring into "cmd/rudpcat listen|dial --metrics-addr".
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
