package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the orchestrator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec   // Turns by terminal outcome
	TurnDuration     prometheus.Histogram     // Wall time of a turn
	RoutingDecisions *prometheus.CounterVec   // Routing decisions by agent and strategy
	Escalations      *prometheus.CounterVec   // Escalations and offers by trigger
	CapabilityCalls  *prometheus.CounterVec   // Capability calls by operation and result
	CapabilityTries  *prometheus.HistogramVec // Attempts per capability call
	ProbeUp          *prometheus.GaugeVec     // 1 when the last health probe passed
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderguardian_turns_total",
			Help: "Processed turns by outcome",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderguardian_turn_duration_seconds",
			Help:    "Duration of a processed turn",
			Buckets: prometheus.DefBuckets,
		}),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderguardian_routing_decisions_total",
			Help: "Routing decisions by selected agent and strategy",
		}, []string{"agent", "strategy"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderguardian_escalations_total",
			Help: "Escalations by trigger and kind (escalate or offer)",
		}, []string{"trigger", "kind"}),
		CapabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderguardian_capability_calls_total",
			Help: "Capability calls by operation and result",
		}, []string{"op", "result"}),
		CapabilityTries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderguardian_capability_attempts",
			Help:    "Attempts made per capability call",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"op"}),
		ProbeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderguardian_capability_up",
			Help: "Result of the last out-of-band health probe",
		}, []string{"probe"}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.RoutingDecisions,
		m.Escalations,
		m.CapabilityCalls,
		m.CapabilityTries,
		m.ProbeUp,
	)
	return m
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRouting(agent, strategy string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(agent, strategy).Inc()
}

func (m *Metrics) ObserveEscalation(trigger, kind string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(trigger, kind).Inc()
}

func (m *Metrics) ObserveCapability(op string, ok bool, attempts int) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.CapabilityCalls.WithLabelValues(op, result).Inc()
	m.CapabilityTries.WithLabelValues(op).Observe(float64(attempts))
}

func (m *Metrics) SetProbe(probe string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.ProbeUp.WithLabelValues(probe).Set(v)
}
