package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/reconcile"
	"github.com/shopspring/decimal"
)

// PaymentHandler drives gateway checkout for the subscriber.
type PaymentHandler struct {
	reconciler *reconcile.Reconciler
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(reconciler *reconcile.Reconciler) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler}
}

// createOrderRequest captures a checkout request.
type createOrderRequest struct {
	PlanID   uint64          `json:"plan_id" binding:"required"` // Plan being purchased.
	Amount   decimal.Decimal `json:"amount"`                     // Optional amount overriding the plan price.
	Currency string          `json:"currency"`                   // Optional ISO currency code.
}

// CreateOrder creates a gateway order and records it as pending.
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var body createOrderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, errOrder := h.reconciler.CreateOrder(c.Request.Context(), reconcile.OrderInput{
		SubscriberID: middleware.SubscriberID(c),
		PlanID:       body.PlanID,
		Amount:       body.Amount,
		Currency:     body.Currency,
	})
	if errOrder != nil {
		respond.Error(c, errOrder)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_id":       res.Order.ID,
		"amount":         res.Order.Amount,
		"currency":       res.Order.Currency,
		"receipt":        res.Order.Receipt,
		"provider":       h.reconciler.Provider(),
		"plan":           formatPlan(res.Plan),
		"transaction_id": res.Transaction.ID,
	})
}

// paymentSuccessRequest captures the client-side success callback.
type paymentSuccessRequest struct {
	OrderID   string `json:"order_id" binding:"required"` // Gateway order id.
	PaymentID string `json:"payment_id"`                  // Gateway payment id.
	PlanID    uint64 `json:"plan_id" binding:"required"`  // Plan the order was for.
}

// Success settles an order reported paid by the client.
func (h *PaymentHandler) Success(c *gin.Context) {
	var body paymentSuccessRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, errConfirm := h.reconciler.ConfirmPayment(c.Request.Context(), reconcile.CallbackInput{
		SubscriberID: middleware.SubscriberID(c),
		OrderID:      strings.TrimSpace(body.OrderID),
		PaymentID:    strings.TrimSpace(body.PaymentID),
		PlanID:       body.PlanID,
	})
	if errConfirm != nil {
		respond.Error(c, errConfirm)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activated":    res.Activated,
		"transaction":  formatTransaction(res.Transaction),
		"subscription": formatSubscription(res.Subscription),
	})
}
