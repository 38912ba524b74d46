package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/models"
)

func formatSubscription(s *models.Subscription) gin.H {
	if s == nil {
		return nil
	}
	return gin.H{
		"id":         s.ID,
		"plan":       formatPlan(&s.Plan),
		"start_date": s.StartDate.Format("2006-01-02"),
		"end_date":   s.EndDate.Format("2006-01-02"),
		"expire_at":  s.ExpireAt,
		"is_active":  s.IsActive,
	}
}

func formatTransaction(t *models.Transaction) gin.H {
	if t == nil {
		return nil
	}
	return gin.H{
		"id":                  t.ID,
		"plan_id":             t.PlanID,
		"plan_type":           t.PlanType,
		"amount":              t.Amount.StringFixed(2),
		"currency":            t.Currency,
		"status":              t.Status,
		"transaction_type":    t.Kind,
		"provider_order_id":   t.ProviderOrderID,
		"provider_payment_id": t.ProviderPaymentID,
		"refund_reason":       t.RefundReason,
		"refund_of_id":        t.RefundOfID,
		"created_at":          t.CreatedAt,
		"updated_at":          t.UpdatedAt,
	}
}
