package models

import (
	"fmt"
	"time"
)

// BillingEvent is one successful charge's economic effect. Rows are append
// only: corrections are new compensating entries with a negative amount,
// never edits. The ID is deterministic per billing cycle so a replayed
// charge for the same cycle collides instead of double-recording.
type BillingEvent struct {
	ID             string `gorm:"column:id;type:varchar(80);primary_key" json:"id"`
	SubscriptionID string `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	Customer       string `gorm:"column:customer;type:varchar(42);not null;index" json:"customer"`
	MerchantID     string `gorm:"column:merchant_id;type:varchar(64);not null;index" json:"merchant_id"`
	AmountCents    int64  `gorm:"column:amount_cents;type:bigint;not null" json:"amount_cents"`
	FeeCents       int64  `gorm:"column:fee_cents;type:bigint;not null" json:"fee_cents"`
	FeeBps         int64  `gorm:"column:fee_bps;type:bigint;not null" json:"fee_bps"`
	FeeRecipient   string `gorm:"column:fee_recipient;type:varchar(42)" json:"fee_recipient"`
	// TxHash is nil until the spend transaction is confirmed; reversal
	// entries carry no transaction of their own.
	TxHash    *string   `gorm:"column:tx_hash;type:varchar(66);default:null" json:"tx_hash"`
	ChargedAt time.Time `gorm:"column:charged_at;not null" json:"charged_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (BillingEvent) TableName() string {
	return "billing_event"
}

// BillingEventID derives the deterministic ledger key for one cycle of a
// subscription.
func BillingEventID(subscriptionID string, cycle int64) string {
	return fmt.Sprintf("%s-%d", subscriptionID, cycle)
}
