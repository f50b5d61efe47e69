package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/orchardpay/biller/pkg/permit"
	"github.com/orchardpay/biller/pkg/types"
)

// Subscription binds a customer's signed spend permission to a plan snapshot.
// Price and period are copied from the plan at creation so later plan edits
// never alter an already-signed permission.
type Subscription struct {
	ID         string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	PlanID     string `gorm:"column:plan_id;type:uuid;not null;index" json:"plan_id"`
	MerchantID string `gorm:"column:merchant_id;type:varchar(64);not null;index" json:"merchant_id"`
	// Customer is the wallet address the permission draws from.
	Customer   string                   `gorm:"column:customer;type:varchar(42);not null;index" json:"customer"`
	PriceCents int64                    `gorm:"column:price_cents;type:bigint;not null" json:"price_cents"`
	Period     types.BillingPeriod      `gorm:"column:period;type:varchar(16);not null" json:"period"`
	Status     types.SubscriptionStatus `gorm:"column:status;type:varchar(16);not null;index:idx_status_next_charge,priority:1" json:"status"`
	// Permission is the signed tuple stored verbatim; every on-chain call
	// replays exactly these bytes so the customer's signature keeps verifying.
	Permission datatypes.JSONType[*permit.SpendPermission] `gorm:"column:permission;type:jsonb;not null" json:"permission"`
	// Signature is the customer's detached EIP-712 signature, 0x-hex.
	Signature         string     `gorm:"column:signature;type:varchar(256);not null" json:"signature"`
	LastChargedAt     *time.Time `gorm:"column:last_charged_at;default:null" json:"last_charged_at"`
	NextChargeAt      time.Time  `gorm:"column:next_charge_at;not null;index:idx_status_next_charge,priority:2" json:"next_charge_at"`
	ChargeCount       int64      `gorm:"column:charge_count;type:bigint;not null;default:0" json:"charge_count"`
	TotalChargedCents int64      `gorm:"column:total_charged_cents;type:bigint;not null;default:0" json:"total_charged_cents"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Due reports whether the subscription is eligible for a charge at now.
func (s *Subscription) Due(now time.Time) bool {
	return s != nil && s.Status.Chargeable() && !s.NextChargeAt.After(now)
}

// PermissionEnded reports whether the signed permission window has closed.
func (s *Subscription) PermissionEnded(now time.Time) bool {
	p := s.Permission.Data()
	return p != nil && uint64(now.Unix()) >= p.End
}
