package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/orchardpay/biller/pkg/response"
)

// MerchantClaims is the bearer-token payload for merchant-facing APIs.
type MerchantClaims struct {
	MerchantID string `json:"merchant_id"`
	jwt.StandardClaims
}

// MerchantAuthMiddleware verifies the Authorization bearer token (HS256) and
// stores the merchant id on the request context. It establishes identity
// only; per-resource ownership checks stay in the services.
func MerchantAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, "missing bearer token"))
			return
		}

		claims := &MerchantClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || claims.MerchantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, "invalid bearer token"))
			return
		}

		c.Set("merchant_id", claims.MerchantID)
		ctx := context.WithValue(c.Request.Context(), "merchant_id", claims.MerchantID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
