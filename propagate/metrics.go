package propagate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cascadeTotal counts propagation runs by outcome
	cascadeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenet_propagation_runs_total",
		Help: "Total propagation runs by outcome",
	}, []string{"outcome"})

	// cascadeHops tracks how deep cascades reach before draining
	cascadeHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenet_propagation_hops",
		Help:    "Hops traversed per propagation run",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	// cascadeDuration tracks propagation run latency
	cascadeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenet_propagation_duration_seconds",
		Help:    "Propagation run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	// flagWrites counts stale flag writes by class
	flagWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenet_stale_flags_written_total",
		Help: "Stale flag writes by class",
	}, []string{"class"})

	// gateEscalations counts items pushed to the human gate by kind
	gateEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenet_gate_escalations_total",
		Help: "Gate escalations by item kind",
	}, []string{"kind"})
)
