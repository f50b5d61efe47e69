package plan

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/logctx"
	"github.com/orchardpay/biller/pkg/tool"
	"github.com/orchardpay/biller/pkg/types"
)

var (
	// ErrNotFound is returned both when a plan does not exist and when it is
	// owned by a different merchant, so cross-tenant probes learn nothing.
	ErrNotFound = errors.New("plan not found")
	ErrInvalid  = errors.New("invalid plan")
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

type CreatePlanInput struct {
	Name        string
	Description string
	PriceCents  int64
	Period      types.BillingPeriod
}

func validatePlanFields(name string, priceCents int64, period types.BillingPeriod) error {
	if name == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	if priceCents <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalid)
	}
	if !period.Valid() {
		return fmt.Errorf("%w: unsupported period %q", ErrInvalid, period)
	}
	return nil
}

func (s *Service) CreatePlan(ctx context.Context, merchantID string, in CreatePlanInput) (*models.Plan, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchant required", ErrInvalid)
	}
	if err := validatePlanFields(in.Name, in.PriceCents, in.Period); err != nil {
		return nil, err
	}

	p := &models.Plan{
		ID:          tool.GenerateUUIDV7(),
		MerchantID:  merchantID,
		Name:        in.Name,
		Description: in.Description,
		PriceCents:  in.PriceCents,
		Period:      in.Period,
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("plan created", "plan_id", p.ID, "merchant_id", merchantID, "period", p.Period)
	return p, nil
}

type UpdatePlanPatch struct {
	Name        *string
	Description *string
	PriceCents  *int64
	Period      *types.BillingPeriod
	Active      *bool
}

// UpdatePlan edits a plan in place. Existing subscriptions keep the price and
// period snapshotted at creation; only future subscriptions see the change.
func (s *Service) UpdatePlan(ctx context.Context, merchantID, planID string, patch UpdatePlanPatch) (*models.Plan, error) {
	var p models.Plan
	err := s.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ?", planID, merchantID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.PriceCents != nil {
		p.PriceCents = *patch.PriceCents
	}
	if patch.Period != nil {
		p.Period = *patch.Period
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if err := validatePlanFields(p.Name, p.PriceCents, p.Period); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	return &p, nil
}

// DeactivatePlan hides the plan from new subscribers. Plans are never hard
// deleted.
func (s *Service) DeactivatePlan(ctx context.Context, merchantID, planID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("id = ? AND merchant_id = ?", planID, merchantID).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate plan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPlans returns the merchant's active plans; includeInactive widens the
// result to deactivated ones.
func (s *Service) ListPlans(ctx context.Context, merchantID string, includeInactive bool) ([]*models.Plan, error) {
	q := s.db.WithContext(ctx).Where("merchant_id = ?", merchantID)
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var plans []*models.Plan
	if err := q.Order("created_at desc").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// GetActivePlan loads a plan for subscription creation regardless of tenant.
func (s *Service) GetActivePlan(ctx context.Context, planID string) (*models.Plan, error) {
	var p models.Plan
	err := s.db.WithContext(ctx).
		Where("id = ? AND active = ?", planID, true).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return &p, nil
}
