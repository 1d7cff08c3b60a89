package hub

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	Events       *prometheus.CounterVec
	TrackedUsers prometheus.Gauge
	Grants       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cravecart",
			Subsystem: "hub",
			Name:      "events_total",
			Help:      "Client events received by the location hub.",
		}, []string{"event", "result"}),
		TrackedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cravecart",
			Subsystem: "hub",
			Name:      "tracked_users",
			Help:      "Users currently tracking their location.",
		}),
		Grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cravecart",
			Subsystem: "hub",
			Name:      "share_grants_total",
			Help:      "Location sharing grants by the state they entered.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.TrackedUsers, m.Grants)
	}
	return m
}

func (m *Metrics) event(e string, result string) {
	if m != nil {
		m.Events.WithLabelValues(e, result).Inc()
	}
}

func (m *Metrics) tracked(delta float64) {
	if m != nil {
		m.TrackedUsers.Add(delta)
	}
}

func (m *Metrics) grant(state string) {
	if m != nil {
		m.Grants.WithLabelValues(state).Inc()
	}
}
