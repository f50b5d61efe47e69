package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChargeAttempts counts charge attempts partitioned by outcome
// (success, not_due, approve_failed, spend_failed, in_flight, ineligible).
var ChargeAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "billing",
		Name:      "charge_attempts_total",
		Help:      "Charge attempts partitioned by outcome.",
	},
	[]string{"outcome"},
)

// ChargeDuration tracks end-to-end charge attempt latency in milliseconds.
// Attempts block on chain confirmations, so the buckets reach well past a
// minute.
var ChargeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: "billing",
		Name:      "charge_duration_ms",
		Help:      "Charge attempt latency in milliseconds, partitioned by outcome.",
		Buckets:   HistogramBuckets,
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(ChargeAttempts, ChargeDuration)
}
