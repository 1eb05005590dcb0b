/*
Package metrics holds the Prometheus collectors of the engine.

PURPOSE:
  Counters and histograms registered once at package init via promauto.
  Domain packages record through the small helpers below so label values
  stay consistent; the HTTP layer exposes the default registry at /metrics.

SEE ALSO:
  - api/server.go: /metrics route and request duration middleware
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tripledger"

var (
	CreditOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credit_operations_total",
		Help:      "Credit ledger operations by kind and outcome.",
	}, []string{"op", "outcome"})

	ConsistencyViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consistency_violations_total",
		Help:      "Credit ledgers found not to reconstruct their stored balance.",
	})

	ChargeStatusRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charge_status_recomputes_total",
		Help:      "Charge status recomputations by resulting status.",
	}, []string{"status"})

	InstallmentAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "installment_alerts_total",
		Help:      "Installment alerts fired by type.",
	}, []string{"type"})

	BillsRegenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bills_regenerated_total",
		Help:      "Recurring bill regenerations by outcome.",
	}, []string{"outcome"})

	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_retries_total",
		Help:      "Retried store operations by operation.",
	}, []string{"op"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern, method and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// CreditOp records one credit operation. Client errors count as rejected.
func CreditOp(op string, err error, clientErr bool) {
	outcome := OutcomeOK
	switch {
	case err == nil:
	case clientErr:
		outcome = OutcomeRejected
	default:
		outcome = OutcomeError
	}
	CreditOperations.WithLabelValues(op, outcome).Inc()
}
