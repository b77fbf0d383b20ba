package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
)

// Metrics is the one Prometheus collector set of a process. It satisfies
// queue.Observer, shipping.Observer and fulfillment.Metrics.
type Metrics struct {
	reg *prometheus.Registry

	jobs            *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	lockContention  prometheus.Counter
	gatewayRequests *prometheus.CounterVec
	trackConflicts  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_jobs_total",
			Help: "Finished job attempts by queue and outcome.",
		}, []string{"queue", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulfillment_job_duration_seconds",
			Help:    "Job attempt duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"queue"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_lock_contention_total",
			Help: "Fulfillment attempts that found the order lock held.",
		}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_gateway_requests_total",
			Help: "Shipping gateway calls by operation and result.",
		}, []string{"operation", "result"}),
		trackConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_tracking_conflicts_total",
			Help: "Tracking updates dropped because the order version moved.",
		}),
	}
	m.reg.MustRegister(
		m.jobs, m.jobDuration, m.lockContention, m.gatewayRequests, m.trackConflicts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) JobFinished(q string, outcome queue.Outcome, took time.Duration) {
	m.jobs.WithLabelValues(q, string(outcome)).Inc()
	m.jobDuration.WithLabelValues(q).Observe(took.Seconds())
}

func (m *Metrics) GatewayRequest(op, result string) {
	m.gatewayRequests.WithLabelValues(op, result).Inc()
}

func (m *Metrics) LockContention() { m.lockContention.Inc() }

func (m *Metrics) TrackingConflict() { m.trackConflicts.Inc() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
