package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	plansvc "github.com/orchardpay/biller/internal/app/service/plan"
	subsvc "github.com/orchardpay/biller/internal/app/service/subscription"
	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/internal/platform/chain"
	"github.com/orchardpay/biller/pkg/permit"
	"github.com/orchardpay/biller/pkg/response"
	"github.com/orchardpay/biller/pkg/types"
)

type CreateSubscriptionRequest struct {
	PlanID   string `json:"plan_id"`
	Customer string `json:"customer"`
	// Permission is the exact tuple the customer signed; it is stored
	// verbatim and replayed on every charge.
	Permission *permit.SpendPermission `json:"permission"`
	Signature  string                  `json:"signature"`
}

// SubscriptionView is the client-facing projection of a subscription.
type SubscriptionView struct {
	ID              string                   `json:"id"`
	PlanID          string                   `json:"plan_id"`
	MerchantID      string                   `json:"merchant_id"`
	Customer        string                   `json:"customer"`
	PriceUsd        string                   `json:"price_usd"`
	Period          types.BillingPeriod      `json:"period"`
	Status          types.SubscriptionStatus `json:"status"`
	LastChargedAt   *time.Time               `json:"last_charged_at"`
	NextChargeAt    time.Time                `json:"next_charge_at"`
	ChargeCount     int64                    `json:"charge_count"`
	TotalChargedUsd string                   `json:"total_charged_usd"`
	CreatedAt       time.Time                `json:"created_at"`
}

func toSubscriptionView(s *models.Subscription) *SubscriptionView {
	return &SubscriptionView{
		ID:              s.ID,
		PlanID:          s.PlanID,
		MerchantID:      s.MerchantID,
		Customer:        s.Customer,
		PriceUsd:        types.CentsToUSD(s.PriceCents),
		Period:          s.Period,
		Status:          s.Status,
		LastChargedAt:   s.LastChargedAt,
		NextChargeAt:    s.NextChargeAt,
		ChargeCount:     s.ChargeCount,
		TotalChargedUsd: types.CentsToUSD(s.TotalChargedCents),
		CreatedAt:       s.CreatedAt,
	}
}

// @Summary      Create Subscription
// @Description  Binds a customer's signed spend permission to an active plan.
// @Tags         Subscriptions
// @Accept       json
// @Produce      json
// @Param        request body handlers.CreateSubscriptionRequest true "Signed permission and plan reference"
// @Success      201 {object} handlers.RespSubscription
// @Router       /api/v1/subscriptions [post]
func ApiCreateSubscription(plans *plansvc.Service, subs *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		p, err := plans.GetActivePlan(c.Request.Context(), req.PlanID)
		if errors.Is(err, plansvc.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "plan not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		sub, err := subs.CreateSubscription(c.Request.Context(), p, req.Customer, req.Permission, req.Signature)
		if err != nil {
			if errors.Is(err, subsvc.ErrInvalid) {
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusCreated, response.OKT(toSubscriptionView(sub)))
	}
}

// @Summary      Get Subscription
// @Tags         Subscriptions
// @Produce      json
// @Param        id path string true "Subscription id"
// @Success      200 {object} handlers.RespSubscription
// @Router       /api/v1/subscriptions/{id} [get]
func ApiGetSubscription(subs *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := subs.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, subsvc.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "subscription not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toSubscriptionView(sub)))
	}
}

type CancelSubscriptionRequest struct {
	// Requester is the customer's wallet address or the merchant id; anyone
	// else is told the subscription does not exist.
	Requester string `json:"requester"`
}

// @Summary      Cancel Subscription
// @Description  Stops all future charges. Terminal: a cancelled subscription never becomes due again.
// @Tags         Subscriptions
// @Accept       json
// @Produce      json
// @Param        id path string true "Subscription id"
// @Param        request body handlers.CancelSubscriptionRequest true "Requester identity"
// @Success      200 {object} handlers.RespOK
// @Router       /api/v1/subscriptions/{id}/cancel [post]
func ApiCancelSubscription(subs *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Requester == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "requester required"))
			return
		}
		err := subs.Cancel(c.Request.Context(), c.Param("id"), req.Requester)
		switch {
		case errors.Is(err, subsvc.ErrNotFound):
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "subscription not found"))
		case errors.Is(err, subsvc.ErrTerminal):
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "subscription already ended"))
		case err != nil:
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
		default:
			c.JSON(http.StatusOK, response.OKT[any](map[string]bool{"success": true}))
		}
	}
}

type PermissionPreviewResponse struct {
	// Permission must be posted back unchanged at subscription creation.
	Permission *permit.SpendPermission `json:"permission"`
	// TypedData is the EIP-712 payload the wallet is asked to sign.
	TypedData any    `json:"typed_data"`
	Spender   string `json:"spender"`
}

// @Summary      Permission Preview
// @Description  Builds the spend-permission tuple and EIP-712 payload a customer must sign for a plan.
// @Tags         Subscriptions
// @Produce      json
// @Param        plan_id query string true "Plan id"
// @Param        customer query string true "Customer wallet address"
// @Param        periods query int false "Validity window in billing periods (default 12)"
// @Success      200 {object} handlers.RespPermissionPreview
// @Router       /api/v1/subscriptions/preview [get]
func ApiPermissionPreview(plans *plansvc.Service, codec *permit.Codec, signer *chain.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		customer := c.Query("customer")
		if !common.IsHexAddress(customer) {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid customer address"))
			return
		}
		periods := 12
		if raw := c.Query("periods"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid periods"))
				return
			}
			periods = n
		}
		p, err := plans.GetActivePlan(c.Request.Context(), c.Query("plan_id"))
		if errors.Is(err, plansvc.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "plan not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		perm, err := codec.Build(common.HexToAddress(customer), signer.Address(), p.PriceCents, p.Period, periods, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&PermissionPreviewResponse{
			Permission: &perm,
			TypedData:  codec.TypedData(perm),
			Spender:    signer.Address().Hex(),
		}))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, plans *plansvc.Service, subs *subsvc.Service, codec *permit.Codec, signer *chain.Signer) {
	r.POST("/subscriptions", ApiCreateSubscription(plans, subs))
	r.GET("/subscriptions/preview", ApiPermissionPreview(plans, codec, signer))
	r.GET("/subscriptions/:id", ApiGetSubscription(subs))
	r.POST("/subscriptions/:id/cancel", ApiCancelSubscription(subs))
}
