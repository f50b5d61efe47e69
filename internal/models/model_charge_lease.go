package models

import "time"

// ChargeLease is a short-lived exclusive claim on one subscription's charge
// execution. It keeps two trigger invocations from racing each other while a
// prior attempt's transactions are still unconfirmed. Expired leases are
// reclaimable, so a crashed attempt never wedges the subscription.
type ChargeLease struct {
	SubscriptionID string    `gorm:"column:subscription_id;type:uuid;primary_key"`
	Holder         string    `gorm:"column:holder;type:uuid;not null"`
	ExpiresAt      time.Time `gorm:"column:expires_at;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ChargeLease) TableName() string {
	return "charge_lease"
}
