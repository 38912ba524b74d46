package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/config"
	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/gateway"
	"github.com/oelp-platform/billing/internal/http/api"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/oelp-platform/billing/internal/reconcile"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_http"

type stubGateway struct{ n int }

func (g *stubGateway) Provider() string { return gateway.ProviderRazorpay }

func (g *stubGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	g.n++
	return gateway.Order{ID: fmt.Sprintf("order_hook_%d", g.n), Amount: req.AmountMinor, Currency: req.Currency}, nil
}

func (g *stubGateway) VerifyWebhookSignature(body []byte, signature, secret string) bool {
	return gateway.VerifyHMACSHA256(body, signature, secret)
}

func post(r *gin.Engine, body, signature, eventID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v0/webhooks/razorpay", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set(gateway.SignatureHeader(gateway.ProviderRazorpay), signature)
	}
	if eventID != "" {
		req.Header.Set(gateway.EventIDHeader(gateway.ProviderRazorpay), eventID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookCapturesPayment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	conn := dbtest.Open(t)
	require.NoError(t, catalog.Seed(ctx, conn))
	rec := reconcile.New(conn, &stubGateway{}, nil, config.GatewayConfig{Currency: "INR", WebhookSecret: webhookSecret})

	r := gin.New()
	RegisterWebhookRoutes(r, &api.Services{DB: conn, Reconciler: rec})

	main, err := catalog.PlanByName(ctx, conn, "MainPlan")
	require.NoError(t, err)
	order, err := rec.CreateOrder(ctx, reconcile.OrderInput{SubscriberID: 12, PlanID: main.ID})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_hook","order_id":%q}}}}`, order.Order.ID)

	w := post(r, body, gateway.SignHMACSHA256([]byte(body), "wrong"), "evt_1")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, body, "", "evt_1")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, body, gateway.SignHMACSHA256([]byte(body), webhookSecret), "evt_1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "ok", out["status"])
	require.Equal(t, "success", out["outcome"])

	var txn models.Transaction
	require.NoError(t, conn.Where("provider_order_id = ?", order.Order.ID).Take(&txn).Error)
	require.Equal(t, models.TransactionStatusSuccess, txn.Status)

	sub, err := entitlement.NewLedger(conn).Current(ctx, 12)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, main.ID, sub.PlanID)

	w = post(r, body, gateway.SignHMACSHA256([]byte(body), webhookSecret), "evt_1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "replayed", out["outcome"])
}
