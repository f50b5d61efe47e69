package types

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Chargeable reports whether a subscription in this status may be charged.
// past_due stays chargeable so the next scheduler pass retries it naturally.
func (s SubscriptionStatus) Chargeable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

// Terminal statuses never transition again.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonCreated       SubscriptionChangeReason = "created"
	SubscriptionChangeReasonChargeSuccess SubscriptionChangeReason = "charge_success"
	SubscriptionChangeReasonChargeFailed  SubscriptionChangeReason = "charge_failed"
	SubscriptionChangeReasonCancelled     SubscriptionChangeReason = "cancelled"
	SubscriptionChangeReasonExpired       SubscriptionChangeReason = "expired"
)

type ChargeOutcome string

const (
	ChargeOutcomeSuccess       ChargeOutcome = "success"
	ChargeOutcomeNotDue        ChargeOutcome = "not_due"
	ChargeOutcomeApproveFailed ChargeOutcome = "approve_failed"
	ChargeOutcomeSpendFailed   ChargeOutcome = "spend_failed"
	ChargeOutcomeInFlight      ChargeOutcome = "in_flight"
	ChargeOutcomeIneligible    ChargeOutcome = "ineligible"
)
