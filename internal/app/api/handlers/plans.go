package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	plansvc "github.com/orchardpay/biller/internal/app/service/plan"
	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/response"
	"github.com/orchardpay/biller/pkg/types"
)

type CreatePlanRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	PriceCents  int64               `json:"price_cents"`
	Period      types.BillingPeriod `json:"period"`
}

type UpdatePlanRequest struct {
	PlanID      string               `json:"plan_id"`
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	PriceCents  *int64               `json:"price_cents,omitempty"`
	Period      *types.BillingPeriod `json:"period,omitempty"`
	Active      *bool                `json:"active,omitempty"`
}

type PlanListResponse struct {
	Plans []*models.Plan `json:"plans"`
}

// @Summary      List Plans
// @Description  Returns the authenticated merchant's plans (active only unless include_inactive=true).
// @Tags         Plans
// @Produce      json
// @Param        include_inactive query bool false "Include deactivated plans"
// @Success      200 {object} handlers.RespPlanList
// @Router       /api/v1/plans [get]
func ApiListPlans(svc *plansvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID := c.GetString("merchant_id")
		includeInactive := c.Query("include_inactive") == "true"
		plans, err := svc.ListPlans(c.Request.Context(), merchantID, includeInactive)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&PlanListResponse{Plans: plans}))
	}
}

// @Summary      Create Plan
// @Description  Creates a recurring offer for the authenticated merchant.
// @Tags         Plans
// @Accept       json
// @Produce      json
// @Param        request body handlers.CreatePlanRequest true "Plan definition"
// @Success      201 {object} handlers.RespPlan
// @Router       /api/v1/plans [post]
func ApiCreatePlan(svc *plansvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		p, err := svc.CreatePlan(c.Request.Context(), c.GetString("merchant_id"), plansvc.CreatePlanInput{
			Name:        req.Name,
			Description: req.Description,
			PriceCents:  req.PriceCents,
			Period:      req.Period,
		})
		if err != nil {
			if errors.Is(err, plansvc.ErrInvalid) {
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusCreated, response.OKT(p))
	}
}

// @Summary      Update Plan
// @Description  Patches a plan; existing subscriptions keep their snapshotted price/period.
// @Tags         Plans
// @Accept       json
// @Produce      json
// @Param        request body handlers.UpdatePlanRequest true "Plan patch"
// @Success      200 {object} handlers.RespPlan
// @Router       /api/v1/plans [put]
func ApiUpdatePlan(svc *plansvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdatePlanRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "plan_id required"))
			return
		}
		p, err := svc.UpdatePlan(c.Request.Context(), c.GetString("merchant_id"), req.PlanID, plansvc.UpdatePlanPatch{
			Name:        req.Name,
			Description: req.Description,
			PriceCents:  req.PriceCents,
			Period:      req.Period,
			Active:      req.Active,
		})
		switch {
		case errors.Is(err, plansvc.ErrNotFound):
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "plan not found"))
		case errors.Is(err, plansvc.ErrInvalid):
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		case err != nil:
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
		default:
			c.JSON(http.StatusOK, response.OKT(p))
		}
	}
}

// @Summary      Deactivate Plan
// @Description  Hides the plan from new subscribers; never hard-deletes.
// @Tags         Plans
// @Produce      json
// @Param        plan_id query string true "Plan id"
// @Success      200 {object} handlers.RespOK
// @Router       /api/v1/plans [delete]
func ApiDeletePlan(svc *plansvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		planID := c.Query("plan_id")
		if planID == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "plan_id required"))
			return
		}
		err := svc.DeactivatePlan(c.Request.Context(), c.GetString("merchant_id"), planID)
		switch {
		case errors.Is(err, plansvc.ErrNotFound):
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, "plan not found"))
		case err != nil:
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
		default:
			c.JSON(http.StatusOK, response.OKT[any](map[string]bool{"success": true}))
		}
	}
}

func RegisterPlanRoutes(r gin.IRouter, svc *plansvc.Service) {
	r.GET("/plans", ApiListPlans(svc))
	r.POST("/plans", ApiCreatePlan(svc))
	r.PUT("/plans", ApiUpdatePlan(svc))
	r.DELETE("/plans", ApiDeletePlan(svc))
}
