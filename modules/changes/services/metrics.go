package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changes",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Total workflow transitions broken down by action and result.",
	}, []string{"action", "result"})

	workflowPartialSync = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changes",
		Subsystem: "workflow",
		Name:      "partial_sync_total",
		Help:      "Transitions where the form committed but the ledger sync failed.",
	})

	reconcileRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changes",
		Subsystem: "reconcile",
		Name:      "repairs_total",
		Help:      "Ledger repairs applied by reconciliation broken down by reason.",
	}, []string{"reason"})
)

func recordTransition(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	workflowTransitions.WithLabelValues(action, result).Inc()
}

func recordPartialSync() {
	workflowPartialSync.Inc()
}

func recordRepair(reason string) {
	reconcileRepairs.WithLabelValues(reason).Inc()
}
