package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchardpay/biller/internal/app/service/ledger"
	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/response"
)

type BillingEventListResponse struct {
	Events []*models.BillingEvent `json:"events"`
	Total  int                    `json:"total"`
}

// @Summary      List Billing Events
// @Description  Lists the authenticated merchant's ledger rows, newest first. Optional filters narrow by subscription or customer.
// @Tags         Ledger
// @Produce      json
// @Param        subscription_id query string false "Filter by subscription"
// @Param        customer query string false "Filter by customer wallet address"
// @Success      200 {object} handlers.RespBillingEventList
// @Router       /api/v1/billing-events [get]
func ApiListBillingEvents(svc *ledger.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID := c.GetString("merchant_id")
		var (
			events []*models.BillingEvent
			err    error
		)
		switch {
		case c.Query("subscription_id") != "":
			events, err = svc.BySubscription(c.Request.Context(), c.Query("subscription_id"))
		case c.Query("customer") != "":
			events, err = svc.ByCustomer(c.Request.Context(), c.Query("customer"))
		default:
			events, err = svc.ByMerchant(c.Request.Context(), merchantID)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		// Rows belonging to other merchants are invisible regardless of the
		// filter used.
		owned := make([]*models.BillingEvent, 0, len(events))
		for _, ev := range events {
			if ev.MerchantID == merchantID {
				owned = append(owned, ev)
			}
		}
		c.JSON(http.StatusOK, response.OKT(&BillingEventListResponse{Events: owned, Total: len(owned)}))
	}
}

func RegisterLedgerRoutes(r gin.IRouter, svc *ledger.Service) {
	r.GET("/billing-events", ApiListBillingEvents(svc))
}
