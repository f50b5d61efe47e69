package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
)

func merchantEcho(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MerchantAuthMiddleware(secret))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("merchant_id"))
	})
	return r
}

func signToken(t *testing.T, secret, merchantID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MerchantClaims{
		MerchantID: merchantID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestMerchantAuthAcceptsValidToken(t *testing.T) {
	r := merchantEcho("secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "merchant-1"))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "merchant-1", w.Body.String())
}

func TestMerchantAuthRejectsMissingToken(t *testing.T) {
	r := merchantEcho("secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMerchantAuthRejectsWrongSecret(t *testing.T) {
	r := merchantEcho("secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other", "merchant-1"))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMerchantAuthRejectsEmptyMerchantID(t *testing.T) {
	r := merchantEcho("secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", ""))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func triggerEcho(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TriggerAuthMiddleware(secret))
	r.POST("/charge", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestTriggerAuthAcceptsSharedSecret(t *testing.T) {
	r := triggerEcho("cron-secret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/charge", nil)
	req.Header.Set(TriggerSecretHeader, "cron-secret")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerAuthRejectsMissingOrWrongSecret(t *testing.T) {
	r := triggerEcho("cron-secret")
	for _, provided := range []string{"", "wrong"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/charge", nil)
		if provided != "" {
			req.Header.Set(TriggerSecretHeader, provided)
		}
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestTriggerAuthRejectsWhenUnconfigured(t *testing.T) {
	// An unset secret must fail closed, not open.
	r := triggerEcho("")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/charge", nil)
	req.Header.Set(TriggerSecretHeader, "")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
