// Package metrics exposes the process's Prometheus counters/gauges: per
// protocol drop counts, storage eviction counts, and active-call gauges, as
// described in the ambient/domain stack of the expanded specification.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	dropsByProtocol = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callscope",
		Name:      "drops_total",
		Help:      "Packets dropped by the dissector chain, by protocol stage.",
	}, []string{"protocol"})

	evictionsByReason = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callscope",
		Name:      "evictions_total",
		Help:      "Calls evicted from storage, by reason (dialog_cap, memory_limit).",
	}, []string{"reason"})

	activeCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "callscope",
		Name:      "active_calls",
		Help:      "Number of calls currently tracked in storage.",
	})

	reassemblyGapEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "callscope",
		Name:      "reassembly_gap_evictions_total",
		Help:      "Stream reassembly buffers dropped for exceeding the out-of-order gap limit.",
	})

	hepAuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "callscope",
		Name:      "hep_auth_failures_total",
		Help:      "HEP3 packets rejected for an invalid or missing auth key chunk.",
	})
)

func init() {
	prometheus.MustRegister(
		dropsByProtocol,
		evictionsByReason,
		activeCalls,
		reassemblyGapEvictions,
		hepAuthFailures,
	)
}

// IncDrop increments the drop counter for the given protocol stage name.
func IncDrop(protocol string) {
	dropsByProtocol.WithLabelValues(protocol).Inc()
}

// IncEviction increments the storage eviction counter for the given reason.
func IncEviction(reason string) {
	evictionsByReason.WithLabelValues(reason).Inc()
}

// SetActiveCalls sets the active-call gauge to n.
func SetActiveCalls(n int) {
	activeCalls.Set(float64(n))
}

// IncReassemblyGapEviction increments the reassembly gap-eviction counter.
func IncReassemblyGapEviction() {
	reassemblyGapEvictions.Inc()
}

// IncHEPAuthFailure increments the HEP auth-failure counter.
func IncHEPAuthFailure() {
	hepAuthFailures.Inc()
}
