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
	ManagedChannels prometheus.Gauge
	PendingTimers   prometheus.Gauge
	LifecycleEvents *prometheus.CounterVec
	ExternalErrors  *prometheus.CounterVec
	Interactions    *prometheus.CounterVec
	HandleLatency   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ManagedChannels: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed_channels",
			Help:      "Number of private voice channels currently managed.",
		}),
		PendingTimers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_timers",
			Help:      "Timers waiting in the lifecycle wheel.",
		}),
		LifecycleEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle transitions by type.",
		}, []string{"event"}),
		ExternalErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_errors_total",
			Help:      "Failed store or platform calls by operation.",
		}, []string{"op"}),
		Interactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Control panel interactions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		HandleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_latency_ms",
			Help:      "Time spent processing one inbound command or timer in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
}

func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.LifecycleEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveExternalError(op string) {
	if m == nil {
		return
	}
	m.ExternalErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveInteraction(kind, outcome string) {
	if m == nil {
		return
	}
	m.Interactions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveHandleLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.HandleLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SetPendingTimers(n int) {
	if m == nil {
		return
	}
	m.PendingTimers.Set(float64(n))
}

func (m *Metrics) SetManagedChannels(n int) {
	if m == nil {
		return
	}
	m.ManagedChannels.Set(float64(n))
}

func (m *Metrics) AddManagedChannels(delta int) {
	if m == nil {
		return
	}
	m.ManagedChannels.Add(float64(delta))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
