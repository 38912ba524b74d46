package webhooks

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/gateway"
	"github.com/oelp-platform/billing/internal/http/api"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/reconcile"
)

// maxWebhookBody bounds the raw body read from the provider.
const maxWebhookBody = 1 << 20

// RegisterWebhookRoutes registers provider webhooks. They carry no bearer
// token and are rate limited per client IP.
func RegisterWebhookRoutes(r *gin.Engine, svc *api.Services) {
	if r == nil || svc == nil || svc.Reconciler == nil {
		return
	}
	handler := NewWebhookHandler(svc.Reconciler)
	group := r.Group("/v0/webhooks")
	group.Use(middleware.RateLimit(svc.Limiter, svc.DB))
	group.POST("/"+svc.Reconciler.Provider(), handler.Receive)
}

// WebhookHandler passes raw deliveries to the reconciler.
type WebhookHandler struct {
	reconciler *reconcile.Reconciler
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(reconciler *reconcile.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// Receive verifies and processes one delivery. The signature covers the raw
// body bytes, so the body is read before any decoding.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	provider := h.reconciler.Provider()
	res, errHandle := h.reconciler.HandleWebhook(c.Request.Context(), reconcile.WebhookDelivery{
		Body:      body,
		Signature: c.GetHeader(gateway.SignatureHeader(provider)),
		EventID:   c.GetHeader(gateway.EventIDHeader(provider)),
	})
	if errHandle != nil {
		respond.Error(c, errHandle)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": res.Outcome})
}
