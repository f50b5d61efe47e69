package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchardpay/biller/pkg/response"
)

// TriggerSecretHeader authenticates the external scheduler (server-to-server
// cron) calling the charge endpoints.
const TriggerSecretHeader = "X-Trigger-Secret"

// TriggerAuthMiddleware compares the shared secret in constant time; an
// absent or mismatched secret is a 401 with no further detail.
func TriggerAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(TriggerSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, "unauthorized"))
			return
		}
		c.Next()
	}
}
