package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/types"
)

func TestApplyChargeSuccessAdvancesExactlyOnePeriod(t *testing.T) {
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		Period:       types.BillingPeriodMonthly,
		Status:       types.SubscriptionStatusActive,
		NextChargeAt: anchor,
	}

	// the trigger fires three periods late; the schedule still moves one
	// period from the previous anchor, not from the execution time
	late := anchor.Add(3 * sub.Period.Duration())
	applyChargeSuccess(sub, 2000, late)

	assert.Equal(t, anchor.Add(sub.Period.Duration()), sub.NextChargeAt)
	assert.Equal(t, int64(1), sub.ChargeCount)
	assert.Equal(t, int64(2000), sub.TotalChargedCents)
	require.NotNil(t, sub.LastChargedAt)
	assert.Equal(t, late, *sub.LastChargedAt)
}

func TestApplyChargeSuccessMonotonicSchedule(t *testing.T) {
	anchor := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		Period:       types.BillingPeriodWeekly,
		Status:       types.SubscriptionStatusPastDue,
		NextChargeAt: anchor,
	}

	prev := sub.NextChargeAt
	for i := 1; i <= 10; i++ {
		applyChargeSuccess(sub, 1999, time.Now())
		assert.Equal(t, prev.Add(sub.Period.Duration()), sub.NextChargeAt, "cycle %d", i)
		assert.True(t, sub.NextChargeAt.After(prev))
		prev = sub.NextChargeAt
	}
	assert.Equal(t, int64(10), sub.ChargeCount)
	assert.Equal(t, int64(10*1999), sub.TotalChargedCents)
	// a successful charge recovers past_due
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
}

func TestRequesterAllowed(t *testing.T) {
	sub := &models.Subscription{
		MerchantID: "merchant-1",
		Customer:   "0xAb5801a7D398351b8bE11C439e05C5b3259aeC9B",
	}

	assert.True(t, requesterAllowed(sub, "merchant-1"))
	assert.True(t, requesterAllowed(sub, "0xab5801a7d398351b8be11c439e05c5b3259aec9b"), "customer match is case-insensitive")
	assert.False(t, requesterAllowed(sub, "merchant-2"))
	assert.False(t, requesterAllowed(sub, ""))
}

func TestSubscriptionDue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		status types.SubscriptionStatus
		next   time.Time
		want   bool
	}{
		{"active and past schedule", types.SubscriptionStatusActive, now.Add(-time.Hour), true},
		{"active at exact schedule", types.SubscriptionStatusActive, now, true},
		{"active but not yet due", types.SubscriptionStatusActive, now.Add(time.Hour), false},
		{"past_due retries", types.SubscriptionStatusPastDue, now.Add(-time.Hour), true},
		{"cancelled never due", types.SubscriptionStatusCancelled, now.Add(-time.Hour), false},
		{"expired never due", types.SubscriptionStatusExpired, now.Add(-time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &models.Subscription{Status: tt.status, NextChargeAt: tt.next}
			assert.Equal(t, tt.want, sub.Due(now))
		})
	}
}
