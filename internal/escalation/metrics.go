package escalation

import "github.com/prometheus/client_golang/prometheus"

// Hooks observes escalation outcomes. Nil funcs are skipped.
type Hooks struct {
	OnResult func(reason string)
	OnNotify func(delivered bool)
}

// Metrics holds Prometheus metrics for escalation evaluation.
type Metrics struct {
	ResultsTotal       *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns escalation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskflow_escalation_results_total",
			Help: "Escalation trigger results by reason.",
		}, []string{"reason"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskflow_escalation_notifications_total",
			Help: "Escalation notifications by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ResultsTotal, m.NotificationsTotal)
	return m
}

// Hooks returns Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnResult: func(reason string) { m.ResultsTotal.WithLabelValues(reason).Inc() },
		OnNotify: func(delivered bool) {
			result := "delivered"
			if !delivered {
				result = "failed"
			}
			m.NotificationsTotal.WithLabelValues(result).Inc()
		},
	}
}
