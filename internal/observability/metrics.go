package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveTasks    prometheus.Gauge
	BufferedEvents prometheus.Gauge
	Observers      prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	Decisions      *prometheus.CounterVec
	Escalations    *prometheus.CounterVec
	LLMLatency     prometheus.Histogram
	LLMErrors      prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Number of supervised sessions with status=active.",
		}),
		BufferedEvents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_events",
			Help:      "Events held for sessions that have not registered yet.",
		}),
		Observers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Attached broadcast observers.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by name.",
		}, []string{"event"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Coordination decisions by kind.",
		}, []string{"kind"}),
		Escalations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalations by reason.",
		}, []string{"reason"}),
		LLMLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_latency_ms",
			Help:      "Latency of coordination model calls in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 5000, 10000, 20000, 45000},
		}),
		LLMErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_call_errors_total",
			Help:      "Failed or unparseable coordination model calls.",
		}),
	}
}

func (m *Metrics) ObserveLLMLatency(d time.Duration) {
	m.LLMLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
