package charge

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orchardpay/biller/internal/models"
)

// gormLeaseStore keeps per-subscription charge leases in the database so the
// mutual exclusion holds across processes, not just goroutines.
type gormLeaseStore struct {
	db *gorm.DB
}

func NewLeaseStore(db *gorm.DB) LeaseStore {
	return &gormLeaseStore{db: db}
}

// Acquire claims the subscription's lease. An existing unexpired lease held
// by someone else loses the race; an expired one is reclaimed in place, so a
// crashed attempt cannot wedge the subscription past the TTL.
func (l *gormLeaseStore) Acquire(ctx context.Context, subscriptionID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	lease := models.ChargeLease{
		SubscriptionID: subscriptionID,
		Holder:         holder,
		ExpiresAt:      now.Add(ttl),
	}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}},
		Where:   clause.Where{Exprs: []clause.Expression{clause.Lte{Column: "expires_at", Value: now}}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"holder":     holder,
			"expires_at": now.Add(ttl),
			"updated_at": now,
		}),
	}).Create(&lease)
	if res.Error != nil {
		return false, fmt.Errorf("failed to upsert charge lease: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (l *gormLeaseStore) Release(ctx context.Context, subscriptionID, holder string) error {
	res := l.db.WithContext(ctx).
		Where("subscription_id = ? AND holder = ?", subscriptionID, holder).
		Delete(&models.ChargeLease{})
	if res.Error != nil {
		return fmt.Errorf("failed to release charge lease: %w", res.Error)
	}
	return nil
}
