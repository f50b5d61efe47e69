package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func routeSet(r *gin.Engine) map[string]bool {
	set := make(map[string]bool)
	for _, rt := range r.Routes() {
		set[rt.Method+" "+rt.Path] = true
	}
	return set
}

func TestRegisterPlanRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterPlanRoutes(r.Group("/api/v1"), nil)

	routes := routeSet(r)
	require.True(t, routes["GET /api/v1/plans"])
	require.True(t, routes["POST /api/v1/plans"])
	require.True(t, routes["PUT /api/v1/plans"])
	require.True(t, routes["DELETE /api/v1/plans"])
}

func TestRegisterSubscriptionRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterSubscriptionRoutes(r.Group("/api/v1"), nil, nil, nil, nil)

	routes := routeSet(r)
	require.True(t, routes["POST /api/v1/subscriptions"])
	require.True(t, routes["GET /api/v1/subscriptions/preview"])
	require.True(t, routes["GET /api/v1/subscriptions/:id"])
	require.True(t, routes["POST /api/v1/subscriptions/:id/cancel"])
}

func TestRegisterChargeRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterChargeRoutes(r.Group("/"), nil, nil)

	routes := routeSet(r)
	require.True(t, routes["POST /charge"])
	require.True(t, routes["GET /due"])
}

func TestRegisterAdminRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterAdminRoutes(r.Group("/api/v1/admin"), nil, nil)

	routes := routeSet(r)
	require.True(t, routes["POST /api/v1/admin/scan_billing_events"])
	require.True(t, routes["POST /api/v1/admin/reverse_billing_event"])
	require.True(t, routes["POST /api/v1/admin/billing_statistics"])
}

func TestRegisterLedgerRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterLedgerRoutes(r.Group("/api/v1"), nil)

	require.True(t, routeSet(r)["GET /api/v1/billing-events"])
}
