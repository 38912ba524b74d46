package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/billing"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "policy", err: billing.NewPolicyError(billing.RuleActivePaidPlan, "busy"), want: http.StatusConflict},
		{name: "signature", err: billing.ErrInvalidSignature, want: http.StatusBadRequest},
		{name: "not found", err: billing.NotFoundf("plan 3"), want: http.StatusNotFound},
		{name: "quota", err: &billing.QuotaError{Feature: "AI Assistant", Limit: 8, Used: 8}, want: http.StatusTooManyRequests},
		{name: "entitlement", err: fmt.Errorf("%w: x", billing.ErrNoEntitlement), want: http.StatusForbidden},
		{name: "gateway", err: fmt.Errorf("reconcile: %w", &billing.GatewayError{Op: "create order", Err: errors.New("timeout")}), want: http.StatusServiceUnavailable},
		{name: "input", err: fmt.Errorf("%w: bad", billing.ErrInvalidInput), want: http.StatusBadRequest},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Status(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestErrorPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Error(c, &billing.QuotaError{Feature: "AI Assistant", Limit: 8, Used: 8})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var quota map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quota))
	require.EqualValues(t, 0, quota["remaining"])
	require.Equal(t, "AI Assistant", quota["feature"])

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Error(c, &billing.GatewayError{Op: "create order", Err: errors.New("timeout")})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var gateway map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &gateway))
	require.Equal(t, true, gateway["retryable"])

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Error(c, errors.New("db exploded"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}
