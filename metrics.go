package stepsaga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives counters and timings from the Coordinator.
type Metrics interface {
	RunStarted()
	RunFinished(status Status, elapsed time.Duration)
	StepExecuted(step StepName, success bool, elapsed time.Duration)
	StepCompensated(step StepName, success bool, attempts int, elapsed time.Duration)
	DeadLettered(step StepName)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RunStarted()                                        {}
func (NopMetrics) RunFinished(Status, time.Duration)                  {}
func (NopMetrics) StepExecuted(StepName, bool, time.Duration)         {}
func (NopMetrics) StepCompensated(StepName, bool, int, time.Duration) {}
func (NopMetrics) DeadLettered(StepName)                              {}

// PrometheusConfig names the collectors registered by NewPrometheusMetrics.
type PrometheusConfig struct {
	Namespace string
	Subsystem string
	Buckets   []float64
}

// DefaultPrometheusConfig returns the collector naming used by the CLI.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Namespace: "stepsaga",
		Subsystem: "coordinator",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}
}

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	runsStarted          prometheus.Counter
	runsInFlight         prometheus.Gauge
	runsFinished         *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
	stepExecutions       *prometheus.CounterVec
	stepDuration         *prometheus.HistogramVec
	compensations        *prometheus.CounterVec
	compensationAttempts *prometheus.HistogramVec
	deadLetters          *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with
// registerer. A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(cfg PrometheusConfig, registerer prometheus.Registerer) (*PrometheusMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = prometheus.DefBuckets
	}

	m := &PrometheusMetrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "runs_started_total",
			Help:      "Total number of saga runs started",
		}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "runs_in_flight",
			Help:      "Number of saga runs currently executing",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "runs_finished_total",
			Help:      "Total number of saga runs by terminal status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "run_duration_seconds",
			Help:      "Duration of saga runs in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"status"}),
		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "step_executions_total",
			Help:      "Total number of step executions by outcome",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"step"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "compensations_total",
			Help:      "Total number of step compensations by outcome",
		}, []string{"step", "outcome"}),
		compensationAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "compensation_attempts",
			Help:      "Number of attempts needed per compensation",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}, []string{"step"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "dead_letters_total",
			Help:      "Total number of compensations given up on",
		}, []string{"step"}),
	}

	collectors := []prometheus.Collector{
		m.runsStarted,
		m.runsInFlight,
		m.runsFinished,
		m.runDuration,
		m.stepExecutions,
		m.stepDuration,
		m.compensations,
		m.compensationAttempts,
		m.deadLetters,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RunStarted() {
	m.runsStarted.Inc()
	m.runsInFlight.Inc()
}

func (m *PrometheusMetrics) RunFinished(status Status, elapsed time.Duration) {
	m.runsInFlight.Dec()
	m.runsFinished.WithLabelValues(status.String()).Inc()
	m.runDuration.WithLabelValues(status.String()).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) StepExecuted(step StepName, success bool, elapsed time.Duration) {
	m.stepExecutions.WithLabelValues(step.String(), outcome(success)).Inc()
	m.stepDuration.WithLabelValues(step.String()).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) StepCompensated(step StepName, success bool, attempts int, _ time.Duration) {
	m.compensations.WithLabelValues(step.String(), outcome(success)).Inc()
	m.compensationAttempts.WithLabelValues(step.String()).Observe(float64(attempts))
}

func (m *PrometheusMetrics) DeadLettered(step StepName) {
	m.deadLetters.WithLabelValues(step.String()).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
