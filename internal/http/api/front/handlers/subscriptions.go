package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/reconcile"
	"github.com/oelp-platform/billing/internal/refund"
)

// SubscriptionHandler serves the subscriber's own subscriptions.
type SubscriptionHandler struct {
	subs       *entitlement.Ledger
	reconciler *reconcile.Reconciler
	refunds    *refund.Engine
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(subs *entitlement.Ledger, reconciler *reconcile.Reconciler, refunds *refund.Engine) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, reconciler: reconciler, refunds: refunds}
}

// Current returns the active, unexpired subscription or null.
func (h *SubscriptionHandler) Current(c *gin.Context) {
	sub, errCurrent := h.subs.Current(c.Request.Context(), middleware.SubscriberID(c))
	if errCurrent != nil {
		respond.Error(c, errCurrent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": formatSubscription(sub)})
}

// createSubscriptionRequest captures a direct plan acquisition.
type createSubscriptionRequest struct {
	PlanID    uint64 `json:"plan_id" binding:"required"` // Plan to acquire.
	Reference string `json:"reference"`                  // Optional external payment reference.
}

// Create acquires a plan without the gateway checkout.
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var body createSubscriptionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, errSubscribe := h.reconciler.Subscribe(c.Request.Context(), reconcile.SubscribeInput{
		SubscriberID: middleware.SubscriberID(c),
		PlanID:       body.PlanID,
		Reference:    body.Reference,
	})
	if errSubscribe != nil {
		respond.Error(c, errSubscribe)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"subscription": formatSubscription(res.Subscription),
		"transaction":  formatTransaction(res.Transaction),
	})
}

// RefundInfo previews the refund for a subscription without recording it.
func (h *SubscriptionHandler) RefundInfo(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	_, quote, errQuote := h.refunds.Quote(c.Request.Context(), middleware.SubscriberID(c), id)
	if errQuote != nil {
		respond.Error(c, errQuote)
		return
	}

	paymentInfo := gin.H{"amount": "0.00", "date": nil, "days_since": 0}
	var paymentTxnID any
	if quote.Payment != nil {
		paymentInfo = gin.H{
			"amount":     quote.Payment.Amount.StringFixed(2),
			"currency":   quote.Payment.Currency,
			"date":       quote.Payment.Date,
			"days_since": quote.Payment.DaysSince,
			"refunded":   quote.Payment.Refunded.StringFixed(2),
		}
		paymentTxnID = quote.Payment.TransactionID
	}
	c.JSON(http.StatusOK, gin.H{
		"refund_available":      quote.Eligible,
		"refund_policy":         formatPolicy(quote.Policy),
		"payment_info":          paymentInfo,
		"refund_amount":         quote.Amount.StringFixed(2),
		"reason":                quote.Reason,
		"used_fallback_payment": quote.UsedFallbackPayment,
		"payment_txn_id":        paymentTxnID,
	})
}

// downgradeRequest captures the downgrade options.
type downgradeRequest struct {
	RefundReason  string `json:"refund_reason"`  // Reason stored on the refund row.
	RequestRefund bool   `json:"request_refund"` // Whether to refund the latest payment.
}

// Downgrade moves the subscription to the fallback plan, refunding on request.
func (h *SubscriptionHandler) Downgrade(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	var body downgradeRequest
	if c.Request.ContentLength != 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	res, errDowngrade := h.refunds.Downgrade(c.Request.Context(), refund.DowngradeInput{
		SubscriberID:   middleware.SubscriberID(c),
		SubscriptionID: id,
		Reason:         body.RefundReason,
		RequestRefund:  body.RequestRefund,
	})
	if errDowngrade != nil {
		respond.Error(c, errDowngrade)
		return
	}

	out := gin.H{
		"detail":           "Downgraded to " + res.FallbackPlan.Name + " plan successfully",
		"refund_processed": res.RefundProcessed,
		"refund_policy":    formatPolicy(res.Policy),
		"subscription":     formatSubscription(res.Subscription),
	}
	if res.RefundProcessed {
		out["refund_amount"] = res.RefundAmount.StringFixed(2)
		out["refund_transaction"] = formatTransaction(res.RefundTransaction)
	}
	c.JSON(http.StatusOK, out)
}

func formatPolicy(p *refund.PolicySnapshot) gin.H {
	if p == nil {
		return nil
	}
	return gin.H{
		"plan_type":           p.PlanType,
		"percentage":          p.Percentage.StringFixed(2),
		"days_after_purchase": p.DaysAfterPurchase,
	}
}
