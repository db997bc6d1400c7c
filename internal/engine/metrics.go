package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the update loop
// =============================================================================

const metricsNamespace = "pondoc"

// Metrics are the update loop's Prometheus collectors. Each engine
// registers its own set so tests can run engines side by side.
type Metrics struct {
	// cycles counts closed cycles.
	cycles prometheus.Counter

	// requests counts handled request lines.
	// Labels: outcome (ok, bad_request, internal_error)
	requests *prometheus.CounterVec

	// deferred counts lines pushed to a later cycle by the quota.
	deferred prometheus.Counter

	// invalidated tracks how many properties each cycle invalidated.
	invalidated prometheus.Histogram

	// cycleDuration measures the time spent inside Step.
	cycleDuration prometheus.Histogram

	// clients tracks connected clients.
	clients prometheus.Gauge

	// streams tracks open doc and frame streams.
	streams prometheus.Gauge

	// entities tracks the size of the document.
	entities prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Total closed document cycles",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Total handled request lines by outcome",
		}, []string{"outcome"}),
		deferred: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "deferred_requests_total",
			Help:      "Request lines deferred to a later cycle by the per-client quota",
		}),
		invalidated: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "invalidated_properties",
			Help:      "Properties invalidated per cycle",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent running one cycle",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033, 0.1},
		}),
		clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "clients",
			Help:      "Connected clients",
		}),
		streams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "streams",
			Help:      "Open doc and frame streams",
		}),
		entities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "document",
			Name:      "entities",
			Help:      "Entities in the document",
		}),
	}
}
