package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/logctx"
	"github.com/orchardpay/biller/pkg/permit"
	"github.com/orchardpay/biller/pkg/tool"
	"github.com/orchardpay/biller/pkg/types"
)

// CreateSubscription binds a customer's signed permission to a plan. The
// plan's price and period are snapshotted here; later plan edits never touch
// this subscription. The permission tuple is stored verbatim together with
// the detached signature so every future charge replays the exact bytes the
// customer signed.
func (s *Service) CreateSubscription(ctx context.Context, p *models.Plan, customer string, perm *permit.SpendPermission, signature string) (*models.Subscription, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: plan required", ErrInvalid)
	}
	if !common.IsHexAddress(customer) {
		return nil, fmt.Errorf("%w: invalid customer address", ErrInvalid)
	}
	if perm == nil {
		return nil, fmt.Errorf("%w: permission required", ErrInvalid)
	}
	if err := s.codec.Validate(*perm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if perm.Account != common.HexToAddress(customer) {
		return nil, fmt.Errorf("%w: permission account does not match customer", ErrInvalid)
	}
	if perm.Spender != s.signer.Address() {
		return nil, fmt.Errorf("%w: permission spender is not the executor identity", ErrInvalid)
	}
	if uint64(p.Period.Seconds()) != perm.Period {
		return nil, fmt.Errorf("%w: permission period does not match plan period", ErrInvalid)
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("%w: malformed signature", ErrInvalid)
	}
	// The hash must be computable locally; this is the digest the signature
	// was produced over and the one the verifier recomputes on-chain.
	if _, err := s.codec.Hash(*perm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	now := time.Now()
	sub := &models.Subscription{
		ID:           tool.GenerateUUIDV7(),
		PlanID:       p.ID,
		MerchantID:   p.MerchantID,
		Customer:     perm.Account.Hex(),
		PriceCents:   p.PriceCents,
		Period:       p.Period,
		Status:       types.SubscriptionStatusActive,
		Permission:   datatypes.NewJSONType(perm),
		Signature:    signature,
		NextChargeAt: now.Add(s.cfg.Billing.FirstChargeGrace),
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.logChange(ctx, nil, sub, types.SubscriptionChangeReasonCreated)
	logctx.FromCtx(ctx, s.log).Infow("subscription created",
		"subscription_id", sub.ID, "plan_id", p.ID, "customer", sub.Customer, "next_charge_at", sub.NextChargeAt)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// FindDue returns every chargeable subscription whose next_charge_at has
// passed. This query is the sole scheduling predicate; there is no separate
// timer or queue.
func (s *Service) FindDue(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status IN ? AND next_charge_at <= ?",
			[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusPastDue}, now).
		Order("next_charge_at asc").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}
	return subs, nil
}

// RecordChargeSuccess applies one confirmed charge: next_charge_at advances
// by exactly one period from its previous value (not from now, so late
// triggers do not drift the schedule), charge_count and the running total
// move, and a past_due subscription recovers to active.
func (s *Service) RecordChargeSuccess(ctx context.Context, id string, amountCents int64) (*models.Subscription, error) {
	var updated *models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load subscription: %w", err)
		}
		if sub.Status.Terminal() {
			return ErrTerminal
		}

		before := sub
		applyChargeSuccess(&sub, amountCents, time.Now())
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("failed to record charge success: %w", err)
		}
		updated = &sub
		s.logChange(ctx, &before, &sub, types.SubscriptionChangeReasonChargeSuccess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyChargeSuccess is the schedule-advance rule, kept pure for testing.
// Missed cycles are never backfilled: one confirmed charge moves the
// schedule forward exactly one period.
func applyChargeSuccess(sub *models.Subscription, amountCents int64, now time.Time) {
	sub.NextChargeAt = sub.NextChargeAt.Add(sub.Period.Duration())
	sub.ChargeCount++
	sub.TotalChargedCents += amountCents
	sub.LastChargedAt = &now
	sub.Status = types.SubscriptionStatusActive
}

// MarkPastDue flags a failed attempt without touching next_charge_at, so the
// subscription naturally becomes due again on the next scheduler pass.
func (s *Service) MarkPastDue(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.SubscriptionStatusPastDue, types.SubscriptionChangeReasonChargeFailed,
		[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusPastDue})
}

// MarkExpired ends a subscription whose permission window has closed.
func (s *Service) MarkExpired(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.SubscriptionStatusExpired, types.SubscriptionChangeReasonExpired,
		[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusPastDue})
}

// Cancel stops all future charges. Only the subscribing customer or the
// owning merchant may cancel; anyone else sees not-found.
func (s *Service) Cancel(ctx context.Context, id, requester string) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !requesterAllowed(sub, requester) {
		return ErrNotFound
	}
	if sub.Status.Terminal() {
		return ErrTerminal
	}
	return s.transition(ctx, id, types.SubscriptionStatusCancelled, types.SubscriptionChangeReasonCancelled,
		[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusPastDue})
}

func requesterAllowed(sub *models.Subscription, requester string) bool {
	if requester == "" {
		return false
	}
	if requester == sub.MerchantID {
		return true
	}
	return strings.EqualFold(requester, sub.Customer)
}

func (s *Service) transition(ctx context.Context, id string, to types.SubscriptionStatus, reason types.SubscriptionChangeReason, from []types.SubscriptionStatus) error {
	var before, after *models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load subscription: %w", err)
		}
		eligible := false
		for _, st := range from {
			if sub.Status == st {
				eligible = true
				break
			}
		}
		if !eligible {
			return ErrTerminal
		}
		cp := sub
		before = &cp
		sub.Status = to
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("failed to transition subscription: %w", err)
		}
		after = &sub
		return nil
	})
	if err != nil {
		return err
	}
	s.logChange(ctx, before, after, reason)
	logctx.FromCtx(ctx, s.log).Infow("subscription transition", "subscription_id", id, "status", to, "reason", reason)
	return nil
}

// logChange writes the audit row asynchronously; failures are logged, never
// surfaced to the caller.
func (s *Service) logChange(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason) {
	go func() {
		entry := &models.SubscriptionLog{
			ID:             tool.GenerateUUIDV7(),
			SubscriptionID: after.ID,
			Reason:         reason,
			Before:         datatypes.NewJSONType(before),
			After:          datatypes.NewJSONType(after),
			Extra:          datatypes.JSONMap{},
		}
		if err := s.db.Save(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
	}()
}
