package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orchardpay/biller/internal/app/service/charge"
	subsvc "github.com/orchardpay/biller/internal/app/service/subscription"
	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/response"
	"github.com/orchardpay/biller/pkg/types"
)

// Charger runs one charge attempt for a subscription.
type Charger interface {
	Charge(ctx context.Context, subscriptionID string) (*charge.Result, error)
}

// DueFinder lists subscriptions whose next charge time has passed.
type DueFinder interface {
	FindDue(ctx context.Context, now time.Time) ([]*models.Subscription, error)
}

type ChargeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type ChargeResultView struct {
	Outcome      types.ChargeOutcome `json:"outcome"`
	AmountUsd    string              `json:"amount_usd,omitempty"`
	TxHash       string              `json:"tx_hash,omitempty"`
	NextChargeAt *time.Time          `json:"next_charge_at,omitempty"`
	ChargeCount  int64               `json:"charge_count,omitempty"`
	Message      string              `json:"message,omitempty"`
}

func toChargeResultView(r *charge.Result) *ChargeResultView {
	v := &ChargeResultView{
		Outcome:     r.Outcome,
		TxHash:      r.TxHash,
		ChargeCount: r.ChargeCount,
		Message:     r.Message,
	}
	if r.AmountCents > 0 {
		v.AmountUsd = types.CentsToUSD(r.AmountCents)
	}
	if !r.NextChargeAt.IsZero() {
		t := r.NextChargeAt
		v.NextChargeAt = &t
	}
	return v
}

// @Summary      Charge Subscription
// @Description  Runs at most one billing cycle for the subscription. Safe to call repeatedly.
// @Tags         Charges
// @Accept       json
// @Produce      json
// @Param        request body handlers.ChargeRequest true "Subscription to charge"
// @Success      200 {object} handlers.RespChargeResult
// @Router       /charge [post]
func ApiCharge(charger Charger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChargeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SubscriptionID == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "subscription_id required"))
			return
		}
		res, err := charger.Charge(c.Request.Context(), req.SubscriptionID)
		if errors.Is(err, subsvc.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "subscription not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		view := toChargeResultView(res)
		switch res.Outcome {
		case types.ChargeOutcomeApproveFailed, types.ChargeOutcomeSpendFailed:
			c.JSON(http.StatusBadGateway, response.ErrorT(response.APIResponseCodeChargeFailed, view))
		default:
			c.JSON(http.StatusOK, response.OKT(view))
		}
	}
}

type DueSubscription struct {
	ID           string    `json:"id"`
	NextChargeAt time.Time `json:"next_charge_at"`
}

type DueListResponse struct {
	Subscriptions []DueSubscription `json:"subscriptions"`
	Total         int               `json:"total"`
}

// @Summary      List Due Subscriptions
// @Description  Returns subscriptions the scheduler should charge now, oldest first.
// @Tags         Charges
// @Produce      json
// @Success      200 {object} handlers.RespDueList
// @Router       /due [get]
func ApiListDue(finder DueFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		subs, err := finder.FindDue(c.Request.Context(), time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		out := DueListResponse{Subscriptions: make([]DueSubscription, 0, len(subs)), Total: len(subs)}
		for _, s := range subs {
			out.Subscriptions = append(out.Subscriptions, DueSubscription{ID: s.ID, NextChargeAt: s.NextChargeAt})
		}
		c.JSON(http.StatusOK, response.OKT(&out))
	}
}

func RegisterChargeRoutes(r gin.IRouter, charger Charger, finder DueFinder) {
	r.POST("/charge", ApiCharge(charger))
	r.GET("/due", ApiListDue(finder))
}
