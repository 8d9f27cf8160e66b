// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived  prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	ListenerMatches   *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram
	Forwards          *prometheus.CounterVec
	ScansClassified   *prometheus.CounterVec
	ScansSuppressed   *prometheus.CounterVec
	SinkPublishes     *prometheus.CounterVec
	GatewayReconnects prometheus.Counter
}

// New registers all collectors on a fresh registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chat_relay"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "messages_received_total",
			Help:      "Inbound chat messages accepted by the handler",
		}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped before routing, by reason",
		}, []string{"reason"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "queue_depth",
			Help:      "Messages waiting for the routing worker",
		}),
		ListenerMatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "listener_matches_total",
			Help:      "Listener rules matched, by listener and chat topology",
		}, []string{"listener", "topology"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by listener and status",
		}, []string{"listener", "status"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "webhook_delivery_seconds",
			Help:      "Webhook delivery latency including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		Forwards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "forwards_total",
			Help:      "Raw message forwards by status",
		}, []string{"status"}),
		ScansClassified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "scan_events_total",
			Help:      "Scan events produced, by chain and type",
		}, []string{"chain", "type"}),
		ScansSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "scan_events_suppressed_total",
			Help:      "Scan events suppressed by the recent sets",
		}, []string{"set"}),
		SinkPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "publishes_total",
			Help:      "Scan event publishes by sink and status",
		}, []string{"sink", "status"}),
		GatewayReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Gateway websocket reconnect attempts",
		}),
	}
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RecordMatch(listener, topology string) {
	if m == nil {
		return
	}
	m.ListenerMatches.WithLabelValues(listener, topology).Inc()
}

func (m *Metrics) RecordDelivery(listener string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(listener, status(err)).Inc()
	m.DeliveryLatency.Observe(took.Seconds())
}

func (m *Metrics) RecordForward(err error) {
	if m == nil {
		return
	}
	m.Forwards.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) RecordScan(chain, typ string) {
	if m == nil {
		return
	}
	m.ScansClassified.WithLabelValues(chain, typ).Inc()
}

func (m *Metrics) RecordSuppressed(set string) {
	if m == nil {
		return
	}
	m.ScansSuppressed.WithLabelValues(set).Inc()
}

func (m *Metrics) RecordSinkPublish(sink string, err error) {
	if m == nil {
		return
	}
	m.SinkPublishes.WithLabelValues(sink, status(err)).Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.GatewayReconnects.Inc()
}
