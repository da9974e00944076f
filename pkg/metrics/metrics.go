// Copyright 2025 Certen Protocol
//
// Prometheus metrics (spec §7): counters and gauges for the BFT hot path
// and the slashing/mempool subsystems. Wires github.com/prometheus/client_golang,
// a direct teacher dependency that no other ported component exercises.

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ViewChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "certen",
		Subsystem: "consensus",
		Name:      "view_changes_total",
		Help:      "Number of view changes triggered by a timed-out view.",
	})

	QuorumUnreachable = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "certen",
		Subsystem: "consensus",
		Name:      "quorum_unreachable_total",
		Help:      "Number of views that timed out without reaching quorum votes.",
	})

	BlocksFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "certen",
		Subsystem: "consensus",
		Name:      "blocks_finalized_total",
		Help:      "Number of blocks that received a quorum certificate.",
	})

	SlashingEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "certen",
		Subsystem: "slashing",
		Name:      "events_total",
		Help:      "Number of slashing events by severity.",
	}, []string{"severity"})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "certen",
		Subsystem: "mempool",
		Name:      "resident_transactions",
		Help:      "Current number of transactions resident in the mempool.",
	})

	AnchorsPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "certen",
		Subsystem: "anchor",
		Name:      "posted_total",
		Help:      "Number of anchor roots posted to the mainchain after reaching multisig threshold.",
	})

	ValidatorStake = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "certen",
		Subsystem: "validator",
		Name:      "stake",
		Help:      "Current stake of a validator, in base units.",
	}, []string{"validator_id"})
)

// NewRegistry builds a fresh prometheus registry so tests can avoid the
// global default registry's cross-test state.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// MustRegister registers every metric in this package against reg, panicking
// on a duplicate-registration error (a programmer error, not a runtime one).
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		ViewChanges,
		QuorumUnreachable,
		BlocksFinalized,
		SlashingEvents,
		MempoolSize,
		AnchorsPosted,
		ValidatorStake,
	)
}
