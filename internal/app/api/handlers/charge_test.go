package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/orchardpay/biller/internal/app/service/charge"
	subsvc "github.com/orchardpay/biller/internal/app/service/subscription"
	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/pkg/response"
	"github.com/orchardpay/biller/pkg/types"
)

type fakeCharger struct {
	result *charge.Result
	err    error
}

func (f *fakeCharger) Charge(_ context.Context, _ string) (*charge.Result, error) {
	return f.result, f.err
}

type fakeDueFinder struct {
	subs []*models.Subscription
	err  error
}

func (f *fakeDueFinder) FindDue(_ context.Context, _ time.Time) ([]*models.Subscription, error) {
	return f.subs, f.err
}

func postCharge(t *testing.T, charger Charger, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/charge", ApiCharge(charger))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/charge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestApiChargeSuccess(t *testing.T) {
	next := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	charger := &fakeCharger{result: &charge.Result{
		Outcome:      types.ChargeOutcomeSuccess,
		AmountCents:  1999,
		TxHash:       "0xabc",
		NextChargeAt: next,
		ChargeCount:  3,
	}}

	w := postCharge(t, charger, `{"subscription_id":"sub-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp response.APIResponse[ChargeResultView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, response.APIResponseCodeOK, resp.Code)
	require.Equal(t, types.ChargeOutcomeSuccess, resp.Data.Outcome)
	require.Equal(t, "19.99", resp.Data.AmountUsd)
	require.Equal(t, "0xabc", resp.Data.TxHash)
	require.Equal(t, int64(3), resp.Data.ChargeCount)
}

func TestApiChargeNotDueIsOK(t *testing.T) {
	charger := &fakeCharger{result: &charge.Result{Outcome: types.ChargeOutcomeNotDue}}

	w := postCharge(t, charger, `{"subscription_id":"sub-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp response.APIResponse[ChargeResultView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, types.ChargeOutcomeNotDue, resp.Data.Outcome)
}

func TestApiChargeFailureIsBadGateway(t *testing.T) {
	for _, outcome := range []types.ChargeOutcome{types.ChargeOutcomeApproveFailed, types.ChargeOutcomeSpendFailed} {
		charger := &fakeCharger{result: &charge.Result{Outcome: outcome, Message: "revert"}}

		w := postCharge(t, charger, `{"subscription_id":"sub-1"}`)
		require.Equal(t, http.StatusBadGateway, w.Code)

		var resp response.APIResponse[ChargeResultView]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, response.APIResponseCodeChargeFailed, resp.Code)
		require.Equal(t, outcome, resp.Data.Outcome)
	}
}

func TestApiChargeUnknownSubscription(t *testing.T) {
	charger := &fakeCharger{err: subsvc.ErrNotFound}

	w := postCharge(t, charger, `{"subscription_id":"missing"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestApiChargeRejectsEmptyBody(t *testing.T) {
	w := postCharge(t, &fakeCharger{}, `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApiListDue(t *testing.T) {
	next := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	finder := &fakeDueFinder{subs: []*models.Subscription{
		{ID: "sub-1", NextChargeAt: next},
		{ID: "sub-2", NextChargeAt: next.Add(time.Minute)},
	}}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/due", ApiListDue(finder))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/due", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp response.APIResponse[DueListResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Data.Total)
	require.Equal(t, "sub-1", resp.Data.Subscriptions[0].ID)
}
