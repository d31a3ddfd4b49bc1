// Package observability groups the Prometheus instruments for the relay.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay service.
type Metrics struct {
	ActiveRelays  prometheus.Gauge
	Attempts      *prometheus.CounterVec
	Denials       *prometheus.CounterVec
	RelayDuration prometheus.Histogram
}

// NewMetrics registers the relay instruments under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveRelays: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_relays",
			Help:      "Number of login streams currently being relayed.",
		}),
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_attempts_total",
			Help:      "Pairing attempts by final outcome.",
		}, []string{"outcome"}),
		Denials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_denials_total",
			Help:      "Pairing attempts rejected before a stream was opened, by reason.",
		}, []string{"reason"}),
		RelayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_duration_seconds",
			Help:      "Duration of relayed login streams in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 200},
		}),
	}
}

// ObserveRelayDuration records how long one relayed stream stayed open.
func (m *Metrics) ObserveRelayDuration(d time.Duration) {
	m.RelayDuration.Observe(d.Seconds())
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
