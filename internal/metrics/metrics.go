package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	GateDecisions      *prometheus.CounterVec
	RoleLookupFailures prometheus.Counter
	SessionRefreshes   *prometheus.CounterVec
	SessionLatency     prometheus.Histogram
	RatingsAggregated  prometheus.Counter
	EventsDropped      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitebox_gate_decisions_total",
			Help: "Request gate outcomes by decision and reason",
		}, []string{"decision", "reason"}),

		RoleLookupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitebox_gate_role_lookup_failures_total",
			Help: "Admin role lookups that failed and were treated as non-admin",
		}),

		SessionRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitebox_session_refreshes_total",
			Help: "Session refresh results",
		}, []string{"result"}), // result: anonymous, valid, refreshed, cleared, error

		SessionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitebox_session_refresh_duration_seconds",
			Help:    "Duration of the per-request session refresh",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		RatingsAggregated: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitebox_public_ratings_computed_total",
			Help: "Public ratings computed from raw observations",
		}),

		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitebox_auth_events_dropped_total",
			Help: "Auth events dropped because the subscriber lagged",
		}),
	}
}

// ObserveGateDecision counts one gate outcome.
func (m *Metrics) ObserveGateDecision(decision, reason string) {
	if m != nil {
		m.GateDecisions.WithLabelValues(decision, reason).Inc()
	}
}

// IncRoleLookupFailure counts a failed admin lookup.
func (m *Metrics) IncRoleLookupFailure() {
	if m != nil {
		m.RoleLookupFailures.Inc()
	}
}

// ObserveSessionRefresh records the result and duration of a refresh.
func (m *Metrics) ObserveSessionRefresh(result string, d time.Duration) {
	if m != nil {
		m.SessionRefreshes.WithLabelValues(result).Inc()
		m.SessionLatency.Observe(d.Seconds())
	}
}

// AddRatingsAggregated counts computed public ratings.
func (m *Metrics) AddRatingsAggregated(n int) {
	if m != nil {
		m.RatingsAggregated.Add(float64(n))
	}
}

// IncEventsDropped counts a dropped auth event.
func (m *Metrics) IncEventsDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}
