package dispatcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tidy"

// Metrics exposes dispatcher activity to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	tasks     *prometheus.CounterVec
	running   prometheus.Gauge
	available prometheus.Gauge
	duration  prometheus.Histogram
}

// NewMetrics creates the dispatcher collectors and registers them on reg when not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_total",
			Help:      "Number of finished tasks by status.",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_running",
			Help:      "Number of tasks currently holding a slot.",
		}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "slots_available",
			Help:      "Number of slots not held by any task.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of tasks that ran on a slot.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.tasks, m.running, m.available, m.duration)
	}
	return m
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

func (m *Metrics) taskFinished(status TaskStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.tasks.WithLabelValues(string(status)).Inc()
	m.duration.Observe(duration.Seconds())
}

func (m *Metrics) taskAborted() {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(string(TaskStatusAborted)).Inc()
}

func (m *Metrics) slotsAvailable(n int) {
	if m == nil {
		return
	}
	m.available.Set(float64(n))
}
