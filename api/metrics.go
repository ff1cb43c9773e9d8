/*
metrics.go - Prometheus instrumentation for the payroll API

PURPOSE:
  Counters and timings for the operations that matter operationally:
  run computation, approvals, and backpay recomputation. Exposed at
  /metrics by the router.

SEE ALSO:
  - handlers.go: Updates these on the compute/approve paths
  - server.go: Mounts the promhttp handler
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_runs_computed_total",
		Help: "Payroll runs computed successfully.",
	})

	runFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_run_failures_total",
		Help: "Payroll run computations that returned an error.",
	})

	runsApproved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_runs_approved_total",
		Help: "Payroll runs approved and posted to the ledger.",
	})

	itemsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_items_computed_total",
		Help: "Employee payslip items computed across all runs.",
	})

	backpayComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_backpay_computed_total",
		Help: "Backpay requests recomputed.",
	})

	backpayApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payroll_backpay_applied_total",
		Help: "Backpay requests applied by approved runs.",
	})

	computeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payroll_run_compute_seconds",
		Help:    "Wall time of a full run computation.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
