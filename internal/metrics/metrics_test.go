package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveGateDecision("redirect", "desktop")
	m.ObserveGateDecision("redirect", "desktop")
	m.IncRoleLookupFailure()
	m.ObserveSessionRefresh("refreshed", 5*time.Millisecond)
	m.AddRatingsAggregated(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("redirect", "desktop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoleLookupFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionRefreshes.WithLabelValues("refreshed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RatingsAggregated))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGateDecision("continue", "mobile")
		m.IncRoleLookupFailure()
		m.ObserveSessionRefresh("valid", time.Millisecond)
		m.AddRatingsAggregated(1)
		m.IncEventsDropped()
	})
}
