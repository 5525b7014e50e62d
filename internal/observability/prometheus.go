package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics exports the collector hooks as Prometheus counters.
type PrometheusMetrics struct {
	messagesTotal   *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
}

// Counters are registered once per process; repeated constructors share them.
var prometheusSingleton = sync.OnceValue(func() *PrometheusMetrics {
	return &PrometheusMetrics{
		messagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workforce_queue",
			Name:      "messages_total",
			Help:      "Total number of queue messages by lifecycle event.",
		}, []string{"queue_name", "queue_type", "event"}),
		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "workforce_queue",
			Name:      "broker_reconnects_total",
			Help:      "Total number of broker reconnect attempts after a connection loss.",
		}),
	}
})

func NewPrometheusMetrics() *PrometheusMetrics {
	return prometheusSingleton()
}

// NewMetricsCollector returns Prometheus-backed metrics when enabled, in-memory otherwise.
func NewMetricsCollector(prometheusEnabled bool) MetricsCollector {
	if prometheusEnabled {
		return NewPrometheusMetrics()
	}
	return NewInMemoryMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *PrometheusMetrics) inc(queue, event string) {
	m.messagesTotal.WithLabelValues(queue, queueType(queue), event).Inc()
}

func (m *PrometheusMetrics) IncPublished(queue string) {
	m.inc(queue, "published")
}

func (m *PrometheusMetrics) IncPublishFailed(queue string) {
	m.inc(queue, "publish_failed")
}

func (m *PrometheusMetrics) IncReceived(queue string) {
	m.inc(queue, "received")
}

func (m *PrometheusMetrics) IncProcessed(queue string) {
	m.inc(queue, "processed")
}

func (m *PrometheusMetrics) IncDuplicate(queue string) {
	m.inc(queue, "duplicate")
}

func (m *PrometheusMetrics) IncFailed(queue string) {
	m.inc(queue, "failed")
}

func (m *PrometheusMetrics) IncRetried(queue string) {
	m.inc(queue, "retried")
}

func (m *PrometheusMetrics) IncDeadLettered(queue string) {
	m.inc(queue, "dead_lettered")
}

func (m *PrometheusMetrics) IncReconnects() {
	m.reconnectsTotal.Inc()
}

func queueType(queue string) string {
	if strings.HasSuffix(queue, ".dlq") {
		return "dlq"
	}
	return "regular"
}
