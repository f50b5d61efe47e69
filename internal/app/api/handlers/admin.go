package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchardpay/biller/internal/app/service/ledger"
	"github.com/orchardpay/biller/internal/app/service/statistics"
	"github.com/orchardpay/biller/pkg/response"
)

// @Summary      Scan Billing Events
// @Description  Paginated ledger scan with column filters, for back-office tooling.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ledger.ScanEventsRequest true "Filters and pagination"
// @Success      200 {object} handlers.RespScanEvents
// @Router       /api/v1/admin/scan_billing_events [post]
func ApiScanBillingEvents(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ledger.ScanEventsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		resp, err := svc.ScanEvents(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(resp))
	}
}

type ReverseBillingEventRequest struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// @Summary      Reverse Billing Event
// @Description  Appends a compensating negative entry for a recorded charge. The original row is never modified.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.ReverseBillingEventRequest true "Event to reverse"
// @Success      200 {object} handlers.RespBillingEvent
// @Router       /api/v1/admin/reverse_billing_event [post]
func ApiReverseBillingEvent(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReverseBillingEventRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.EventID == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "event_id required"))
			return
		}
		rev, err := svc.AppendReversal(c.Request.Context(), req.EventID, req.Reason)
		if err != nil {
			if errors.Is(err, ledger.ErrEventNotFound) {
				c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
				return
			}
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(rev))
	}
}

// @Summary      Billing Statistics
// @Description  Computes daily revenue, charge and subscription series for dashboards.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.BillingStatisticRequest true "Data items and filters"
// @Success      200 {object} handlers.RespBillingStatistic
// @Router       /api/v1/admin/billing_statistics [post]
func ApiBillingStatistics(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.BillingStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if len(req.DataItems) == 0 {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "data_items required"))
			return
		}
		resp, err := svc.GetBillingStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(resp))
	}
}

func RegisterAdminRoutes(r gin.IRouter, svc *ledger.Service, stats *statistics.Service) {
	r.POST("/scan_billing_events", ApiScanBillingEvents(svc))
	r.POST("/reverse_billing_event", ApiReverseBillingEvent(svc))
	r.POST("/billing_statistics", ApiBillingStatistics(stats))
}
