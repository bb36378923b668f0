// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session orchestrator.
type Metrics struct {
	// Phase loop
	PhasesDispatched *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	WakeupLag        prometheus.Histogram
	SessionsDriven   prometheus.Counter
	ActiveLobbies    prometheus.Gauge

	// Oracle
	OracleRequests *prometheus.CounterVec
	OracleLatency  *prometheus.HistogramVec

	// Gateway
	BroadcastEvents *prometheus.CounterVec
	GatewayClients  prometheus.Gauge
	GatewayDrops    prometheus.Counter
}

// New creates and registers all metrics. Pass prometheus.DefaultRegisterer
// in main; tests pass a fresh registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PhasesDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gauntlet_phases_dispatched_total",
				Help: "Phase handlers dispatched by the worker loop",
			},
			[]string{"phase", "outcome"}, // outcome: ok, error
		),

		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gauntlet_phase_duration_seconds",
				Help:    "Wall time spent inside each phase handler",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),

		WakeupLag: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gauntlet_wakeup_lag_seconds",
				Help:    "Delay between a scheduled boundary and the handler firing",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),

		SessionsDriven: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gauntlet_sessions_driven_total",
				Help: "Sessions fully monitored to completion",
			},
		),

		ActiveLobbies: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gauntlet_active_lobbies",
				Help: "Lobbies created for the session currently monitored",
			},
		),

		OracleRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gauntlet_oracle_requests_total",
				Help: "Decision service calls by operation and outcome",
			},
			[]string{"op", "outcome"}, // outcome: ok, declined, network, status, decode
		),

		OracleLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gauntlet_oracle_latency_seconds",
				Help:    "Decision service call latency",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"op"},
		),

		BroadcastEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gauntlet_broadcast_events_total",
				Help: "Events published to gateway clients",
			},
			[]string{"channel"}, // per-lobby channels collapse to "lobby"
		),

		GatewayClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gauntlet_gateway_clients",
				Help: "Currently connected websocket clients",
			},
		),

		GatewayDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gauntlet_gateway_drops_total",
				Help: "Events dropped for clients that fell behind the broadcast stream",
			},
		),
	}
}

// RecordPhase records one dispatched phase handler.
func (m *Metrics) RecordPhase(phase string, failed bool, seconds float64) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.PhasesDispatched.WithLabelValues(phase, outcome).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordWakeupLag records how late a boundary fired.
func (m *Metrics) RecordWakeupLag(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	m.WakeupLag.Observe(seconds)
}

// RecordOracleRequest records a decision service call.
func (m *Metrics) RecordOracleRequest(op, outcome string, seconds float64) {
	m.OracleRequests.WithLabelValues(op, outcome).Inc()
	m.OracleLatency.WithLabelValues(op).Observe(seconds)
}

// RecordBroadcast records one published event. Per-lobby channels share a
// single label value to keep cardinality bounded.
func (m *Metrics) RecordBroadcast(channel string) {
	if strings.HasPrefix(channel, "lobby-") {
		channel = "lobby"
	}
	m.BroadcastEvents.WithLabelValues(channel).Inc()
}
