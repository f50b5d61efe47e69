package handlers

// Concrete envelope wrappers for swagger generation; swag cannot expand the
// generic response.APIResponse[T], so each documented payload gets a named
// non-generic mirror here. These types are documentation only.

import (
	"github.com/orchardpay/biller/internal/app/service/ledger"
	"github.com/orchardpay/biller/internal/app/service/statistics"
	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    map[string]bool          `json:"data"`
}

// RespPlan wraps a single plan in the standard envelope.
type RespPlan struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Plan              `json:"data"`
}

// RespPlanList wraps the plan listing in the standard envelope.
type RespPlanList struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    PlanListResponse         `json:"data"`
}

// RespSubscription wraps a subscription view in the standard envelope.
type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    SubscriptionView         `json:"data"`
}

// RespPermissionPreview wraps a signing preview in the standard envelope.
type RespPermissionPreview struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    PermissionPreviewResponse `json:"data"`
}

// RespChargeResult wraps one charge attempt's result in the standard envelope.
type RespChargeResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ChargeResultView         `json:"data"`
}

// RespDueList wraps the due-subscription listing in the standard envelope.
type RespDueList struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    DueListResponse          `json:"data"`
}

// RespBillingEvent wraps a single ledger row in the standard envelope.
type RespBillingEvent struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.BillingEvent      `json:"data"`
}

// RespBillingEventList wraps the merchant ledger listing in the standard envelope.
type RespBillingEventList struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    BillingEventListResponse `json:"data"`
}

// RespScanEvents wraps the admin ledger scan in the standard envelope.
type RespScanEvents struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    ledger.ScanEventsResponse `json:"data"`
}

// RespBillingStatistic wraps the statistics series in the standard envelope.
type RespBillingStatistic struct {
	Code    response.APIResponseCode            `json:"code"`
	Message string                              `json:"message"`
	Data    statistics.BillingStatisticResponse `json:"data"`
}
