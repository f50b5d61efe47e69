package statistics

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/types"
)

type StatisticType string

const (
	// Daily counts and revenue over the billing ledger
	StatisticTypeDailyChargeCount StatisticType = "daily_charge_count"
	StatisticTypeDailyRevenue     StatisticType = "daily_revenue"
	StatisticTypeTotalRevenue     StatisticType = "total_revenue"

	// Subscription registry
	StatisticTypeDailyNewSubscriptions         StatisticType = "daily_new_subscriptions"
	StatisticTypeActiveSubscriptionCount       StatisticType = "active_subscription_count"
	StatisticTypeDailyAccumulatedSubscriptions StatisticType = "daily_accumulated_subscriptions"

	// Renewal metrics from the state-transition log
	StatisticTypeRenewalSuccessRate StatisticType = "renewal_success_rate"
)

// Filter types supported by certain statistic types
type BillingStatisticFilterType string

const (
	BillingStatisticFilterTypeIncludeReversals BillingStatisticFilterType = "include_reversals"
	BillingStatisticFilterTypeMerchantID       BillingStatisticFilterType = "merchant_id"
	BillingStatisticFilterTypePlanID           BillingStatisticFilterType = "plan_id"
)

var filterTypes = []BillingStatisticFilterType{
	BillingStatisticFilterTypeIncludeReversals,
	BillingStatisticFilterTypeMerchantID,
	BillingStatisticFilterTypePlanID,
}

var validFilters = map[BillingStatisticFilterType][]StatisticType{
	BillingStatisticFilterTypeIncludeReversals: {StatisticTypeDailyChargeCount, StatisticTypeDailyRevenue},
	BillingStatisticFilterTypeMerchantID: {
		StatisticTypeDailyChargeCount, StatisticTypeDailyRevenue,
		StatisticTypeDailyNewSubscriptions, StatisticTypeActiveSubscriptionCount,
	},
	BillingStatisticFilterTypePlanID: {StatisticTypeDailyNewSubscriptions, StatisticTypeActiveSubscriptionCount},
}

type BillingStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type BillingStatisticRequest struct {
	Filters   []*types.CommonFilter       `json:"filters"`
	DataItems []*BillingStatisticDataItem `json:"data_items"`
}

func (f *BillingStatisticRequest) GetFilters(statisticType StatisticType) *BillingStatisticRequest {
	if f == nil || len(f.Filters) == 0 {
		return f
	}
	var result BillingStatisticRequest
	for _, filter := range f.Filters {
		if statisticTypes, ok := validFilters[BillingStatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result.Filters = append(result.Filters, filter)
			}
		} else {
			result.Filters = append(result.Filters, filter)
		}
	}
	return &result
}

// Build composes a WHERE clause from the filters. include_reversals is a
// virtual field: reversal rows carry a negative amount, so excluding them is
// an amount sign check rather than a column match.
func (f *BillingStatisticRequest) Build(builder clause.Builder) {
	if len(f.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, filter := range f.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		switch filter.Field {
		case string(BillingStatisticFilterTypeIncludeReversals):
			if len(filter.Values) > 0 && fmt.Sprint(filter.Values[0]) == "true" {
				builder.WriteString("1=1")
			} else {
				builder.WriteString("amount_cents > 0")
			}
		default:
			filter.Build(builder)
		}
	}
}

type BillingStatisticResponseDataItem struct {
	Date   string `json:"date"`
	Label  string `json:"label,omitempty"`
	Value  int64  `json:"value"`
	Value2 int64  `json:"value2,omitempty"`
	Value3 int64  `json:"value3,omitempty"`
}

type BillingStatisticResponse struct {
	DataItems map[StatisticType][]BillingStatisticResponseDataItem `json:"data_items"`
}

// Service computes back-office statistics over the billing ledger and the
// subscription registry.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) getDailyChargeCount(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.BillingEvent{}).TableName()).
		Select("TO_CHAR(charged_at, 'YYYY-MM-DD') as date, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyChargeCount)}}).
		Group("TO_CHAR(charged_at, 'YYYY-MM-DD')").
		Order("date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyRevenue(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.BillingEvent{}).TableName()).
		Select("TO_CHAR(charged_at, 'YYYY-MM-DD') as date, sum(amount_cents) as value, sum(fee_cents) as value2").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyRevenue)}}).
		Group("TO_CHAR(charged_at, 'YYYY-MM-DD')").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalRevenue(ctx context.Context, _ *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH min_max_dates AS (
    SELECT MIN(DATE(charged_at)) as min_date, MAX(DATE(charged_at)) as max_date
    FROM billing_event
),
distinct_dates AS (
    SELECT generate_series(min_date, max_date, '1 day'::interval) as date FROM min_max_dates
),
daily AS (
    SELECT TO_CHAR(d.date, 'YYYY-MM-DD') as date, COALESCE(SUM(e.amount_cents), 0) as value
    FROM distinct_dates d
    LEFT JOIN billing_event e ON DATE(e.charged_at) = d.date
    GROUP BY d.date
)
SELECT d.date as date, SUM(s.value) as value
FROM daily d
LEFT JOIN daily s ON s.date <= d.date
GROUP BY d.date
ORDER BY d.date DESC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyNewSubscriptions(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyNewSubscriptions)}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order("date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getActiveSubscriptionCount(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeActiveSubscriptionCount)}}).
		Where("status = ?", types.SubscriptionStatusActive)
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyAccumulatedSubscriptions(ctx context.Context, _ *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH min_max_dates AS (
    SELECT MIN(DATE(created_at)) as min_date, MAX(DATE(created_at)) as max_date FROM subscription
),
distinct_dates AS (
    SELECT generate_series(min_date, max_date, '1 day'::interval) as date FROM min_max_dates
),
customer_date AS (
    SELECT customer, DATE(created_at) as date FROM subscription
)
SELECT TO_CHAR(d.date, 'YYYY-MM-DD') as date, COUNT(DISTINCT s.customer) as value
FROM distinct_dates d
LEFT JOIN customer_date s ON s.date <= d.date
GROUP BY d.date
ORDER BY d.date DESC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// getRenewalSuccessRate derives per-day success rates from the transition
// log: charge_success against all charge outcomes recorded that day. The
// rate is scaled to basis points of a percent, matching the other counters'
// integer encoding.
func (s *Service) getRenewalSuccessRate(ctx context.Context, _ *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	sql := `
WITH outcomes AS (
  SELECT TO_CHAR(created_at, 'YYYY-MM-DD') as date,
         COUNT(*) FILTER (WHERE reason = 'charge_success') as successes,
         COUNT(*) FILTER (WHERE reason IN ('charge_success', 'charge_failed')) as attempts
  FROM subscription_log
  GROUP BY TO_CHAR(created_at, 'YYYY-MM-DD')
)
SELECT date,
  CASE WHEN attempts = 0 THEN 0
       ELSE CAST(ROUND(successes * 100.0 / attempts, 2) * 100 AS INTEGER)
  END as value,
  attempts as value2,
  successes as value3
FROM outcomes
WHERE attempts > 0
ORDER BY date DESC`
	if err := s.db.WithContext(ctx).Raw(sql).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getBillingStatistic(ctx context.Context, request *BillingStatisticRequest, dataItem *BillingStatisticDataItem) ([]BillingStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyChargeCount:
		return s.getDailyChargeCount(ctx, request)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, request)
	case StatisticTypeTotalRevenue:
		return s.getTotalRevenue(ctx, request)
	case StatisticTypeDailyNewSubscriptions:
		return s.getDailyNewSubscriptions(ctx, request)
	case StatisticTypeActiveSubscriptionCount:
		return s.getActiveSubscriptionCount(ctx, request)
	case StatisticTypeDailyAccumulatedSubscriptions:
		return s.getDailyAccumulatedSubscriptions(ctx, request)
	case StatisticTypeRenewalSuccessRate:
		return s.getRenewalSuccessRate(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetBillingStatistic runs all requested data items concurrently and merges
// the per-type series into one response.
func (s *Service) GetBillingStatistic(ctx context.Context, request *BillingStatisticRequest) (*BillingStatisticResponse, error) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []BillingStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *BillingStatisticDataItem) {
			defer wg.Done()
			// check filter applicability
			for _, filter := range request.Filters {
				ft := BillingStatisticFilterType(filter.Field)
				if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], di.ID) {
					resChan <- &lo.Entry[StatisticType, []BillingStatisticResponseDataItem]{Key: di.ID, Value: nil}
					return
				}
			}
			res, err := s.getBillingStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []BillingStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]BillingStatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &BillingStatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(fx.Provide(New))
