package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides the engine's Prometheus metrics (§2.2 domain stack):
// batch throughput, state transitions, attempt accounting, executor
// call latency/errors, and the active/alive gauges the step driver
// updates after every batch.
type Metrics struct {
	config MetricsConfig

	// Batch metrics
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram

	// Target lifecycle metrics
	transitions   *prometheus.CounterVec
	attemptsTotal prometheus.Counter
	orphansReaped prometheus.Counter

	// Executor metrics
	executorCalls    *prometheus.CounterVec
	executorDuration *prometheus.HistogramVec
	executorErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeTargets prometheus.Gauge
	aliveTargets  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of targets stepped in a single driver batch",
				Buckets:   []float64{1, 4, 16, 64, 256, 1024},
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall-clock duration of a single driver batch",
				Buckets:   buckets,
			},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of target state transitions, by resulting state",
			},
			[]string{"state"},
		),
		attemptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of non-fatal retry attempts across all targets",
			},
		),
		orphansReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphans_reaped_total",
				Help:      "Total number of targets killed by the orphan sweep",
			},
		),

		executorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_calls_total",
				Help:      "Total number of executor dispatches, by action kind",
			},
			[]string{"action"},
		),
		executorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "executor_call_duration_seconds",
				Help:      "Duration of executor dispatches, by action kind",
				Buckets:   buckets,
			},
			[]string{"action"},
		),
		executorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_errors_total",
				Help:      "Total number of classified executor errors, by action kind and error kind",
			},
			[]string{"action", "kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by engineerr.Kind",
			},
			[]string{"class"},
		),

		activeTargets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_targets",
				Help:      "Current number of targets in a non-terminal, non-passive state",
			},
		),
		aliveTargets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alive_targets",
				Help:      "Current number of passive or active (non-terminal) targets",
			},
		),
	}

	registry.MustRegister(
		m.batchSize,
		m.batchDuration,
		m.transitions,
		m.attemptsTotal,
		m.orphansReaped,
		m.executorCalls,
		m.executorDuration,
		m.executorErrors,
		m.errorsByClass,
		m.activeTargets,
		m.aliveTargets,
	)

	return m, nil
}

// Registry exposes the underlying Prometheus registry so other
// components can register additional collectors onto the same
// registry rather than a second, disconnected one.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBatch records the size and duration of one driver batch (§4.5).
func (m *Metrics) RecordBatch(size int, duration time.Duration) {
	if m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	m.batchDuration.Observe(duration.Seconds())
}

// RecordTransition increments the transition counter for the state a
// target just entered.
func (m *Metrics) RecordTransition(state string) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// RecordAttempt increments the running non-fatal-retry counter (§4.4).
func (m *Metrics) RecordAttempt() {
	if m.attemptsTotal == nil {
		return
	}
	m.attemptsTotal.Inc()
}

// RecordOrphanReaped increments the orphan-sweep counter (§4.5, §9).
func (m *Metrics) RecordOrphanReaped() {
	if m.orphansReaped == nil {
		return
	}
	m.orphansReaped.Inc()
}

// RecordExecutorCall records one executor dispatch and its duration.
func (m *Metrics) RecordExecutorCall(action string, duration time.Duration) {
	if m.executorCalls == nil {
		return
	}
	m.executorCalls.WithLabelValues(action).Inc()
	m.executorDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordExecutorError records a classified executor failure.
func (m *Metrics) RecordExecutorError(action, kind string) {
	if m.executorErrors == nil {
		return
	}
	m.executorErrors.WithLabelValues(action, kind).Inc()
}

// RecordError records an error by its engineerr.Kind class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// SetActiveTargets sets the current active-target gauge (§4.1 status_class).
func (m *Metrics) SetActiveTargets(count float64) {
	if m.activeTargets == nil {
		return
	}
	m.activeTargets.Set(count)
}

// SetAliveTargets sets the current alive-target gauge.
func (m *Metrics) SetAliveTargets(count float64) {
	if m.aliveTargets == nil {
		return
	}
	m.aliveTargets.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
