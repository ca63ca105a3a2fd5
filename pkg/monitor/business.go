package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics are the ledger and settlement counters.
type BusinessMetrics struct {
	CreditsDeductedTotal     prometheus.Counter
	CreditsAddedTotal        prometheus.Counter
	DeductionsRejectedTotal  *prometheus.CounterVec
	PurchasesTotal           *prometheus.CounterVec
	PickupsSettledTotal      *prometheus.CounterVec
	GatewayCallbacksTotal    *prometheus.CounterVec
	GatewayCallDuration      *prometheus.HistogramVec
	IntegrityViolationsTotal prometheus.Counter
	AuditJobDuration         prometheus.Histogram
}

// Business is registered with the default registry at package load.
var Business = newBusinessMetrics()

func newBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{
		CreditsDeductedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kawadi_credits_deducted_total",
			Help: "Total credits debited from collector accounts (NPR).",
		}),
		CreditsAddedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kawadi_credits_added_total",
			Help: "Total credits granted to collector accounts (NPR).",
		}),
		DeductionsRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kawadi_credit_deductions_rejected_total",
			Help: "Debits refused by the balance check.",
		}, []string{"reason"}),
		PurchasesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kawadi_credit_purchases_total",
			Help: "Credit purchases by final status.",
		}, []string{"method", "status"}),
		PickupsSettledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kawadi_pickups_settled_total",
			Help: "Completed pickups by payment method.",
		}, []string{"method"}),
		GatewayCallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kawadi_gateway_callbacks_total",
			Help: "Gateway callbacks by outcome.",
		}, []string{"gateway", "status"}),
		GatewayCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kawadi_gateway_call_duration_seconds",
			Help:    "Outbound gateway call latency.",
			Buckets: []float64{0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
		}, []string{"gateway", "operation"}),
		IntegrityViolationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kawadi_ledger_integrity_violations_total",
			Help: "Ledger invariants found broken or about to be broken.",
		}),
		AuditJobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kawadi_ledger_audit_duration_seconds",
			Help:    "Duration of the periodic ledger replay audit.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
