package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	metricsNamespace = "taskflow"
	metricsSubsystem = "executor"
)

// Admission waits range from immediate to several minutes for tasks
// queued behind large joins.
var admissionWaitBuckets = []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600}

type metrics struct {
	registry      *prometheus.Registry
	submitted     prometheus.Counter
	completed     *prometheus.CounterVec
	retried       *prometheus.CounterVec
	failed        *prometheus.CounterVec
	admissionWait prometheus.Histogram
}

func newMetrics(e *Executor) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_submitted_total",
			Help:      "The total number of tasks submitted, excluding retries.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_completed_total",
			Help:      "The total number of successfully completed tasks.",
		}, []string{"kernel"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_retried_total",
			Help:      "The total number of task attempts that failed with a retryable error.",
		}, []string{"kernel"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tasks_failed_total",
			Help:      "The total number of tasks that failed fatally.",
		}, []string{"kernel"}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "admission_wait_seconds",
			Help:      "Time tasks spent waiting for device memory before running.",
			Buckets:   admissionWaitBuckets,
		}),
	}

	gauge := func(name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, value)
	}

	m.registry.MustRegister(
		m.submitted,
		m.completed,
		m.retried,
		m.failed,
		m.admissionWait,
		gauge("tasks_active", "The number of tasks currently running.", func() float64 {
			return float64(e.gate.Active())
		}),
		gauge("tasks_queued", "The number of tasks waiting to be dispatched.", func() float64 {
			return float64(e.queue.Len())
		}),
		gauge("workers", "The number of worker slots.", func() float64 {
			return float64(e.pool.Size())
		}),
		gauge("device_memory_limit_bytes", "The device memory limit.", func() float64 {
			return float64(e.memory.MemoryLimit())
		}),
		gauge("device_memory_used_bytes", "The device memory in use.", func() float64 {
			return float64(e.memory.MemoryUsed())
		}),
		collectors.NewGoCollector(),
	)

	return m
}
