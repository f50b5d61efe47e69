package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/orchardpay/biller/pkg/types"
)

// SubscriptionLog records subscription state transitions.
// Use case: troubleshooting.
type SubscriptionLog struct {
	ID             string                         `gorm:"column:id;type:uuid;primary_key"`
	SubscriptionID string                         `gorm:"column:subscription_id;type:uuid;not null;index"`
	Reason         types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null"`
	// Before/After snapshot the subscription around the change in JSON form.
	Before    datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb;default:'null'"`
	After     datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'"`
	Extra     datatypes.JSONMap                 `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt time.Time
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
