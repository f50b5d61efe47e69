package types

import "time"

type BillingPeriod string

const (
	BillingPeriodWeekly    BillingPeriod = "weekly"
	BillingPeriodBiweekly  BillingPeriod = "biweekly"
	BillingPeriodMonthly   BillingPeriod = "monthly"
	BillingPeriodQuarterly BillingPeriod = "quarterly"
	BillingPeriodYearly    BillingPeriod = "yearly"
)

// periodSeconds mirrors the durations the on-chain verifier expects; a
// "month" is a fixed 30 days, not a calendar month.
var periodSeconds = map[BillingPeriod]int64{
	BillingPeriodWeekly:    7 * 24 * 3600,
	BillingPeriodBiweekly:  14 * 24 * 3600,
	BillingPeriodMonthly:   30 * 24 * 3600,
	BillingPeriodQuarterly: 90 * 24 * 3600,
	BillingPeriodYearly:    365 * 24 * 3600,
}

func (p BillingPeriod) Valid() bool {
	_, ok := periodSeconds[p]
	return ok
}

// Seconds returns the period length in seconds, or 0 for an unknown period.
func (p BillingPeriod) Seconds() int64 {
	return periodSeconds[p]
}

func (p BillingPeriod) Duration() time.Duration {
	return time.Duration(p.Seconds()) * time.Second
}
