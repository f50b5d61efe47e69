package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/logctx"
	"github.com/orchardpay/biller/pkg/types"
)

// ErrDuplicateEvent signals that this billing cycle was already recorded.
// The ledger key is deterministic per (subscription, cycle), so a replayed
// charge attempt collides here instead of double-recording its effect.
var ErrDuplicateEvent = errors.New("billing event already recorded")

// ErrEventNotFound signals that a referenced ledger row does not exist.
var ErrEventNotFound = errors.New("billing event not found")

// Service is the append-only financial ledger. Rows are never updated or
// deleted; corrections go through AppendReversal as new compensating rows.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// Append writes one billing event. Write-once: an existing row with the same
// ID is left untouched and reported as ErrDuplicateEvent.
func (s *Service) Append(ctx context.Context, ev *models.BillingEvent) error {
	if ev.ID == "" || ev.SubscriptionID == "" {
		return fmt.Errorf("billing event id and subscription id required")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return fmt.Errorf("failed to append billing event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	logctx.FromCtx(ctx, s.log).Infow("billing event appended",
		"event_id", ev.ID, "subscription_id", ev.SubscriptionID, "amount_cents", ev.AmountCents, "tx_hash", ev.TxHash)
	return nil
}

// AppendReversal records a compensating entry against a previously recorded
// event. The original row stays untouched.
func (s *Service) AppendReversal(ctx context.Context, originalID string, reason string) (*models.BillingEvent, error) {
	var original models.BillingEvent
	err := s.db.WithContext(ctx).Where("id = ?", originalID).First(&original).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("original billing event %s: %w", originalID, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load billing event: %w", err)
	}

	rev := &models.BillingEvent{
		ID:             original.ID + "-rev",
		SubscriptionID: original.SubscriptionID,
		Customer:       original.Customer,
		MerchantID:     original.MerchantID,
		AmountCents:    -original.AmountCents,
		FeeCents:       -original.FeeCents,
		FeeBps:         original.FeeBps,
		FeeRecipient:   original.FeeRecipient,
		ChargedAt:      time.Now(),
	}
	if err := s.Append(ctx, rev); err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("billing event reversed", "event_id", original.ID, "reason", reason)
	return rev, nil
}

func (s *Service) BySubscription(ctx context.Context, subscriptionID string) ([]*models.BillingEvent, error) {
	return s.find(ctx, "subscription_id = ?", subscriptionID)
}

func (s *Service) ByCustomer(ctx context.Context, customer string) ([]*models.BillingEvent, error) {
	return s.find(ctx, "customer = ?", customer)
}

func (s *Service) ByMerchant(ctx context.Context, merchantID string) ([]*models.BillingEvent, error) {
	return s.find(ctx, "merchant_id = ?", merchantID)
}

func (s *Service) find(ctx context.Context, cond string, arg any) ([]*models.BillingEvent, error) {
	var events []*models.BillingEvent
	if err := s.db.WithContext(ctx).Where(cond, arg).Order("charged_at desc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query billing events: %w", err)
	}
	return events, nil
}

type ScanEventsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanEventsResponse struct {
	Items []*models.BillingEvent `json:"items"`
	Total int64                  `json:"total"`
}

// filtersAnd combines multiple CommonFilter into a single clause.Expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanEvents implements paginated/admin listing with filters.
func (s *Service) ScanEvents(ctx context.Context, req *ScanEventsRequest) (*ScanEventsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.BillingEvent{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count billing events: %w", err)
	}

	var rows []*models.BillingEvent
	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list billing events: %w", err)
	}

	return &ScanEventsResponse{Items: rows, Total: total}, nil
}
