package engine

import "github.com/prometheus/client_golang/prometheus"

// Hooks lets callers observe execution outcomes without the engine
// depending on a metrics backend. Nil funcs are skipped.
type Hooks struct {
	OnExecutionFinished func(status string, seconds float64)
	OnNodeFinished      func(nodeType, status string, seconds float64)
	OnDuplicateTrigger  func()
	OnSuspended         func()
}

// Metrics holds Prometheus metrics for the execution engine.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	NodesTotal        *prometheus.CounterVec
	NodeDuration      *prometheus.HistogramVec
	DuplicatesTotal   prometheus.Counter
	SuspensionsTotal  prometheus.Counter
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskflow_executions_total",
			Help: "Workflow executions by final status.",
		}, []string{"status"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskflow_execution_duration_seconds",
			Help:    "Wall-clock duration of finished executions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"status"}),
		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskflow_node_results_total",
			Help: "Visited nodes by type and status.",
		}, []string{"type", "status"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskflow_node_duration_seconds",
			Help:    "Duration of node visits.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms .. ~16s
		}, []string{"type"}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskflow_duplicate_triggers_total",
			Help: "Execute calls that found an existing execution for the trigger event.",
		}),
		SuspensionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskflow_execution_suspensions_total",
			Help: "Executions parked on a delay node.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.NodesTotal,
		m.NodeDuration,
		m.DuplicatesTotal,
		m.SuspensionsTotal,
	)

	return m
}

// Hooks returns engine Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnExecutionFinished: func(status string, seconds float64) {
			m.ExecutionsTotal.WithLabelValues(status).Inc()
			m.ExecutionDuration.WithLabelValues(status).Observe(seconds)
		},
		OnNodeFinished: func(nodeType, status string, seconds float64) {
			m.NodesTotal.WithLabelValues(nodeType, status).Inc()
			m.NodeDuration.WithLabelValues(nodeType).Observe(seconds)
		},
		OnDuplicateTrigger: func() { m.DuplicatesTotal.Inc() },
		OnSuspended:        func() { m.SuspensionsTotal.Inc() },
	}
}
