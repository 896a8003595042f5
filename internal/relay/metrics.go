package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	clients      prometheus.Gauge
	rooms        prometheus.Gauge
	messages     *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	rateLimited  prometheus.Counter
	updateErrors prometheus.Counter
}

// NewMetrics registers the relay metrics on a private registry so several
// relays can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cocode",
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Sync connections currently open",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cocode",
			Subsystem: "relay",
			Name:      "rooms_loaded",
			Help:      "Room documents held in memory",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocode",
			Subsystem: "relay",
			Name:      "sync_messages_total",
			Help:      "Sync messages received by type",
		}, []string{"type"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocode",
			Subsystem: "relay",
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal status",
		}, []string{"status"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cocode",
			Subsystem: "relay",
			Name:      "rate_limited_total",
			Help:      "Sync connections closed for exceeding the inbound rate",
		}),
		updateErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cocode",
			Subsystem: "relay",
			Name:      "update_errors_total",
			Help:      "Updates rejected or not persisted",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
