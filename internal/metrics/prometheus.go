package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by Prometheus. Metrics are
// registered lazily on first use.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	queued   prometheus.Counter
	rejected prometheus.Counter
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	evicted  prometheus.Counter
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registering on reg
// (prometheus.DefaultRegisterer if nil) under namespace ("tessera" if empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "tessera"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.queued = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "queued_total",
			Help:      "Collage jobs accepted into the queue.",
		})
		p.rejected = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "rejected_total",
			Help:      "Collage jobs refused because the queue was full.",
		})
		p.finished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Collage jobs reaching a terminal state by status and error code.",
		}, []string{"status", "code"})
		p.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Collage job run time in seconds by status.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"status"})
		p.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Collage jobs currently running.",
		})
		p.evicted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "evicted_total",
			Help:      "Job status entries evicted after their retention period.",
		})

		p.reg.MustRegister(p.queued, p.rejected, p.finished, p.duration, p.inFlight, p.evicted)
	})
}

// JobQueued increments the queued counter.
func (p *Prometheus) JobQueued() {
	p.ensureRegistered()
	p.queued.Inc()
}

// JobRejected increments the rejected counter.
func (p *Prometheus) JobRejected() {
	p.ensureRegistered()
	p.rejected.Inc()
}

// JobFinished counts a terminal state and observes its duration.
func (p *Prometheus) JobFinished(status, code string, seconds float64) {
	p.ensureRegistered()
	p.finished.WithLabelValues(status, code).Inc()
	p.duration.WithLabelValues(status).Observe(seconds)
}

// JobStarted increments the running job gauge.
func (p *Prometheus) JobStarted() {
	p.ensureRegistered()
	p.inFlight.Inc()
}

// JobStopped decrements the running job gauge.
func (p *Prometheus) JobStopped() {
	p.ensureRegistered()
	p.inFlight.Dec()
}

// JobsEvicted adds n to the eviction counter.
func (p *Prometheus) JobsEvicted(n int) {
	p.ensureRegistered()
	p.evicted.Add(float64(n))
}
