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

	m.ObserveTurn("terminal", 20*time.Millisecond)
	m.ObserveRouting("monitor", "rules")
	m.ObserveEscalation("legal_threat", "escalate")
	m.ObserveCapability("complete", false, 3)
	m.SetProbe("completion", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("terminal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingDecisions.WithLabelValues("monitor", "rules")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues("legal_threat", "escalate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapabilityCalls.WithLabelValues("complete", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeUp.WithLabelValues("completion")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("terminal", time.Second)
		m.ObserveRouting("monitor", "rules")
		m.ObserveEscalation("x", "offer")
		m.ObserveCapability("embed", true, 1)
		m.SetProbe("embed", false)
	})
}
