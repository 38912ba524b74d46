package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// RefundPolicyHandler manages per plan type refund policies.
type RefundPolicyHandler struct {
	db *gorm.DB // Database handle for refund policies.
}

// NewRefundPolicyHandler constructs a RefundPolicyHandler.
func NewRefundPolicyHandler(db *gorm.DB) *RefundPolicyHandler {
	return &RefundPolicyHandler{db: db}
}

// refundPolicyRequest captures the create payload.
type refundPolicyRequest struct {
	PlanType          models.PlanType `json:"plan_type"`           // Plan family the policy covers.
	RefundPercentage  decimal.Decimal `json:"refund_percentage"`   // Refunded share, 0-100.
	DaysAfterPurchase int             `json:"days_after_purchase"` // Eligibility window in days.
}

// Create inserts a refund policy. One policy exists per plan type.
func (h *RefundPolicyHandler) Create(c *gin.Context) {
	var body refundPolicyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !body.PlanType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan_type"})
		return
	}
	if msg := validatePolicy(body.RefundPercentage, body.DaysAfterPurchase); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	now := time.Now().UTC()
	policy := models.RefundPolicy{
		PlanType:          body.PlanType,
		RefundPercentage:  body.RefundPercentage.Round(2),
		DaysAfterPurchase: body.DaysAfterPurchase,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&policy).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "policy for plan type already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create refund policy failed"})
		return
	}
	c.JSON(http.StatusCreated, formatRefundPolicy(&policy))
}

// List returns every refund policy.
func (h *RefundPolicyHandler) List(c *gin.Context) {
	var rows []models.RefundPolicy
	if errFind := h.db.WithContext(c.Request.Context()).Order("plan_type ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list refund policies failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatRefundPolicy(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"refund_policies": out})
}

// updateRefundPolicyRequest captures optional fields for policy updates.
type updateRefundPolicyRequest struct {
	RefundPercentage  *decimal.Decimal `json:"refund_percentage"`   // Optional refunded share.
	DaysAfterPurchase *int             `json:"days_after_purchase"` // Optional eligibility window.
}

// Update changes a policy's percentage or window.
func (h *RefundPolicyHandler) Update(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	var body updateRefundPolicyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var policy models.RefundPolicy
	if errFind := h.db.WithContext(c.Request.Context()).First(&policy, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if body.RefundPercentage != nil {
		policy.RefundPercentage = body.RefundPercentage.Round(2)
	}
	if body.DaysAfterPurchase != nil {
		policy.DaysAfterPurchase = *body.DaysAfterPurchase
	}
	if msg := validatePolicy(policy.RefundPercentage, policy.DaysAfterPurchase); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.RefundPolicy{}).Where("id = ?", id).
		Updates(map[string]any{
			"refund_percentage":   policy.RefundPercentage,
			"days_after_purchase": policy.DaysAfterPurchase,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, formatRefundPolicy(&policy))
}

// Delete removes a policy. Plan types without a policy are not refundable.
func (h *RefundPolicyHandler) Delete(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.RefundPolicy{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func validatePolicy(percentage decimal.Decimal, days int) string {
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return "refund_percentage must be between 0 and 100"
	}
	if days < 0 {
		return "days_after_purchase must not be negative"
	}
	return ""
}

func formatRefundPolicy(p *models.RefundPolicy) gin.H {
	return gin.H{
		"id":                  p.ID,
		"plan_type":           p.PlanType,
		"refund_percentage":   p.RefundPercentage.StringFixed(2),
		"days_after_purchase": p.DaysAfterPurchase,
		"created_at":          p.CreatedAt,
		"updated_at":          p.UpdatedAt,
	}
}
