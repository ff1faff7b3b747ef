// Package metrics exposes the settlement counters on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics holds the application-level instruments.
type Metrics struct {
	ProtocolsGenerated *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	Consolidations     *prometheus.CounterVec
}

// New registers the instruments against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProtocolsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lingora_protocols_generated_total",
			Help: "Individual protocols created by the generator.",
		}, []string{"type"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lingora_protocol_transitions_total",
			Help: "Workflow transitions applied, by type and action.",
		}, []string{"type", "action"}),
		Consolidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lingora_consolidations_total",
			Help: "Consolidation attempts, by type and outcome.",
		}, []string{"type", "outcome"}),
	}

	reg.MustRegister(m.ProtocolsGenerated, m.Transitions, m.Consolidations)
	return m
}

// Module provides the default-registry metrics.
var Module = fx.Module("metrics",
	fx.Provide(func() *Metrics {
		return New(prometheus.DefaultRegisterer)
	}),
)
