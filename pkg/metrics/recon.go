package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReconMetrics counts reconciliation outcomes per trigger source.
type ReconMetrics struct {
	synced      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

// NewReconMetrics registers the reconciliation metrics on the provided registerer.
func NewReconMetrics(reg prometheus.Registerer) *ReconMetrics {
	if reg == nil {
		return &ReconMetrics{}
	}
	synced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recon_transactions_synced_total",
		Help: "Transactions whose provider status was fetched and applied.",
	}, []string{"trigger"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recon_transitions_total",
		Help: "Payable state transitions applied during reconciliation.",
	}, []string{"trigger", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recon_failures_total",
		Help: "Reconciliation attempts that ended in an error.",
	}, []string{"trigger"})
	reg.MustRegister(synced, transitions, failures)
	return &ReconMetrics{
		synced:      synced,
		transitions: transitions,
		failures:    failures,
	}
}

// IncSynced increments the synced counter for the trigger source.
func (r *ReconMetrics) IncSynced(trigger string) {
	if r == nil || r.synced == nil {
		return
	}
	r.synced.WithLabelValues(normalizeLabel(trigger)).Inc()
}

// IncTransition increments the transition counter for the trigger and resulting status.
func (r *ReconMetrics) IncTransition(trigger, status string) {
	if r == nil || r.transitions == nil {
		return
	}
	r.transitions.WithLabelValues(normalizeLabel(trigger), normalizeLabel(status)).Inc()
}

// IncFailure increments the failure counter for the trigger source.
func (r *ReconMetrics) IncFailure(trigger string) {
	if r == nil || r.failures == nil {
		return
	}
	r.failures.WithLabelValues(normalizeLabel(trigger)).Inc()
}
