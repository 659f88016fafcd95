package notify

import "github.com/prometheus/client_golang/prometheus"

// Delivery outcomes reported to Hooks.OnNotify.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	// ResultRejected means the channel's circuit breaker was open.
	ResultRejected = "rejected"
)

// Hooks observes deliveries. Nil funcs are skipped.
type Hooks struct {
	OnNotify       func(channel, result string)
	OnBreakerState func(name, state string)
}

// Metrics holds Prometheus metrics for notification delivery.
type Metrics struct {
	NotificationsTotal *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
}

// NewMetrics registers and returns notifier metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskflow_notifications_total",
			Help: "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskflow_notifier_breaker_open",
			Help: "1 while a notification channel's circuit breaker is not closed.",
		}, []string{"breaker"}),
	}
	reg.MustRegister(m.NotificationsTotal, m.BreakerState)
	return m
}

// Hooks returns Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnNotify: func(channel, result string) {
			m.NotificationsTotal.WithLabelValues(channel, result).Inc()
		},
		OnBreakerState: func(name, state string) {
			v := 1.0
			if state == "closed" {
				v = 0
			}
			m.BreakerState.WithLabelValues(name).Set(v)
		},
	}
}
