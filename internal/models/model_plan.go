package models

import (
	"time"

	"github.com/orchardpay/biller/pkg/types"
)

// Plan is a merchant-defined recurring offer. Plans are never hard-deleted;
// deactivation hides them from new subscribers while existing subscriptions
// keep their snapshotted price and period.
type Plan struct {
	ID          string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	MerchantID  string              `gorm:"column:merchant_id;type:varchar(64);not null;index:idx_merchant_active,priority:1" json:"merchant_id"`
	Name        string              `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Description string              `gorm:"column:description;type:text" json:"description"`
	PriceCents  int64               `gorm:"column:price_cents;type:bigint;not null" json:"price_cents"`
	Period      types.BillingPeriod `gorm:"column:period;type:varchar(16);not null" json:"period"`
	Active      bool                `gorm:"column:active;not null;default:true;index:idx_merchant_active,priority:2" json:"active"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (Plan) TableName() string {
	return "plan"
}
