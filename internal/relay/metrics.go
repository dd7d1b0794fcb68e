package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments of the relay.
type Metrics struct {
	Clients       prometheus.Gauge
	Broadcasts    prometheus.Counter
	Dropped       prometheus.Counter
	LatestFetches *prometheus.CounterVec
}

// NewMetrics registers the relay instruments on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_clients",
			Help:      "Connected WebSocket clients.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_broadcasts_total",
			Help:      "Sync records pushed to clients.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Records not delivered to a slow client.",
		}),
		LatestFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_latest_requests_total",
			Help:      "GET /latest requests by result.",
		}, []string{"result"}),
	}
}

// MetricsHandler serves the metrics gathered by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
