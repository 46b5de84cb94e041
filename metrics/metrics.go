// Package metrics exposes the federation Prometheus collectors and the
// server that publishes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ruteri/dlt-service-federation/common"
)

var registry = prometheus.NewRegistry()

var factory = promauto.With(registry)

var (
	ledgerTransactions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Subsystem: "ledger",
		Name:      "transactions_total",
		Help:      "Transactions submitted to the ledger by operation and result kind.",
	}, []string{"op", "result"})

	ledgerHeight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: common.PackageName,
		Subsystem: "ledger",
		Name:      "height",
		Help:      "Latest committed ledger height.",
	})

	coordinatorSubmissions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Subsystem: "coordinator",
		Name:      "submissions_total",
		Help:      "Coordinator transaction submissions by operation and result kind.",
	}, []string{"op", "result"})

	coordinatorOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Subsystem: "coordinator",
		Name:      "outcomes_total",
		Help:      "Finished federation workflows by role and status.",
	}, []string{"role", "status"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry returns the registry all federation collectors live in.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveLedgerTx counts one ledger transaction. result is "ok" or an error
// kind name.
func ObserveLedgerTx(op, result string) {
	ledgerTransactions.WithLabelValues(op, result).Inc()
}

func SetLedgerHeight(height uint64) {
	ledgerHeight.Set(float64(height))
}

func ObserveSubmission(op, result string) {
	coordinatorSubmissions.WithLabelValues(op, result).Inc()
}

func ObserveOutcome(role, status string) {
	coordinatorOutcomes.WithLabelValues(role, status).Inc()
}
