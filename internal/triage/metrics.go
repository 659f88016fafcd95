package triage

import "github.com/prometheus/client_golang/prometheus"

// Hooks observes triage evaluations. Nil funcs are skipped.
type Hooks struct {
	OnEvaluated func(priority string)
}

// Metrics holds Prometheus metrics for the triage engine.
type Metrics struct {
	EvaluationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskflow_triage_evaluations_total",
			Help: "Conversation triage evaluations by resulting priority band.",
		}, []string{"priority"}),
	}
	reg.MustRegister(m.EvaluationsTotal)
	return m
}

// Hooks returns Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEvaluated: func(priority string) { m.EvaluationsTotal.WithLabelValues(priority).Inc() },
	}
}
