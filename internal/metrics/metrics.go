package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shohag/hookrunner/internal/models"
)

// Metrics holds the delivery instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	SettledTotal    *prometheus.CounterVec
	Pending         prometheus.Gauge
	QueueDepth      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the instruments and registers them on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrunner_delivery_attempts_total",
				Help: "Total number of webhook delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		AttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookrunner_delivery_attempt_duration_seconds",
				Help:    "Webhook delivery attempt duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		SettledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrunner_webhooks_settled_total",
				Help: "Total number of webhooks that reached a final status",
			},
			[]string{"status", "reason"},
		),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hookrunner_webhooks_pending",
			Help: "Number of webhooks still being delivered",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hookrunner_pool_queue_depth",
			Help: "Number of delivery attempts waiting for a worker",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.AttemptsTotal,
		m.AttemptDuration,
		m.SettledTotal,
		m.Pending,
		m.QueueDepth,
	)
	return m
}

func (m *Metrics) ObserveAttempt(a models.Attempt) {
	if m == nil {
		return
	}
	outcome := a.Outcome.String()
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
	m.AttemptDuration.WithLabelValues(outcome).Observe(a.Duration.Seconds())
}

func (m *Metrics) WebhookRegistered() {
	if m == nil {
		return
	}
	m.Pending.Inc()
}

// WebhookSettled counts a final status. reason must be one of the
// models.Reason constants so label cardinality stays bounded.
func (m *Metrics) WebhookSettled(status models.DeliveryStatus, reason string) {
	if m == nil {
		return
	}
	m.Pending.Dec()
	m.SettledTotal.WithLabelValues(string(status), reason).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Timeout: 10 * time.Second,
	})
}
