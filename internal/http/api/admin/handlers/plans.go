package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PlanHandler manages admin CRUD endpoints for plans.
type PlanHandler struct {
	db       *gorm.DB // Database handle for plan records.
	validate *validator.Validate
}

// NewPlanHandler constructs a plan handler.
func NewPlanHandler(db *gorm.DB) *PlanHandler {
	return &PlanHandler{db: db, validate: validator.New()}
}

// planFeatureRequest defines one feature grant in a plan payload.
type planFeatureRequest struct {
	Name         string `json:"name" validate:"required"`                 // Feature name.
	MaxCount     int    `json:"max_count" validate:"gte=0"`               // Calls per window, 0 for unlimited.
	DurationDays int    `json:"duration_days" validate:"omitempty,gte=1"` // Rollover window in days.
}

// createPlanRequest captures the payload for creating a plan.
type createPlanRequest struct {
	Name         string               `json:"name" validate:"required"`                                  // Plan name.
	Type         models.PlanType      `json:"type" validate:"required,oneof=main topup enterprise free"` // Plan family.
	Price        decimal.Decimal      `json:"price"`                                                     // Price per term.
	DurationDays int                  `json:"duration_days" validate:"gte=1"`                            // Term length in days.
	Description  string               `json:"description"`                                               // Plan description.
	SortOrder    int                  `json:"sort_order"`                                                // Display order.
	RateLimit    int                  `json:"rate_limit" validate:"gte=0"`                               // Rate limit per second.
	IsEnabled    *bool                `json:"is_enabled"`                                                // Optional active flag.
	Features     []planFeatureRequest `json:"features" validate:"dive"`                                  // Feature grants.
}

// Create validates input and inserts a new plan with its features.
func (h *PlanHandler) Create(c *gin.Context) {
	var body createPlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if errValidate := h.validate.Struct(body); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}
	if body.Price.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must not be negative"})
		return
	}

	isEnabled := true
	if body.IsEnabled != nil {
		isEnabled = *body.IsEnabled
	}

	now := time.Now().UTC()
	plan := models.Plan{
		Name:         body.Name,
		Type:         body.Type,
		Price:        body.Price.Round(2),
		DurationDays: body.DurationDays,
		Description:  body.Description,
		SortOrder:    body.SortOrder,
		RateLimit:    body.RateLimit,
		IsEnabled:    isEnabled,
		Features:     featureModels(body.Features),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if errCreate := h.db.WithContext(c.Request.Context()).Create(&plan).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create plan failed"})
		return
	}
	c.JSON(http.StatusCreated, formatPlan(&plan))
}

// List returns all plans, optionally filtered by enabled flag.
func (h *PlanHandler) List(c *gin.Context) {
	enabledQ := strings.TrimSpace(c.Query("is_enabled"))

	q := h.db.WithContext(c.Request.Context()).Model(&models.Plan{}).Preload("Features")
	if enabledQ != "" {
		if enabledQ == "true" || enabledQ == "1" {
			q = q.Where("is_enabled = ?", true)
		} else if enabledQ == "false" || enabledQ == "0" {
			q = q.Where("is_enabled = ?", false)
		}
	}

	var rows []models.Plan
	if errFind := q.Order("sort_order ASC, id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatPlan(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

// Get fetches a plan by ID.
func (h *PlanHandler) Get(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	var plan models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).Preload("Features").First(&plan, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatPlan(&plan))
}

// updatePlanRequest captures optional fields for plan updates.
type updatePlanRequest struct {
	Name         *string               `json:"name"`                                                       // Optional name update.
	Type         *models.PlanType      `json:"type" validate:"omitempty,oneof=main topup enterprise free"` // Optional plan family.
	Price        *decimal.Decimal      `json:"price"`                                                      // Optional price.
	DurationDays *int                  `json:"duration_days" validate:"omitempty,gte=1"`                   // Optional term length.
	Description  *string               `json:"description"`                                                // Optional description.
	SortOrder    *int                  `json:"sort_order"`                                                 // Optional display order.
	RateLimit    *int                  `json:"rate_limit" validate:"omitempty,gte=0"`                      // Optional rate limit per second.
	IsEnabled    *bool                 `json:"is_enabled"`                                                 // Optional active flag.
	Features     *[]planFeatureRequest `json:"features" validate:"omitempty,dive"`                         // Optional replacement feature set.
}

// Update validates and applies plan field updates. A features list replaces
// the plan's grants.
func (h *PlanHandler) Update(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	var body updatePlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errValidate := h.validate.Struct(body); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if body.Name != nil {
		n := strings.TrimSpace(*body.Name)
		if n == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = n
	}
	if body.Type != nil {
		updates["type"] = *body.Type
	}
	if body.Price != nil {
		if body.Price.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must not be negative"})
			return
		}
		updates["price"] = body.Price.Round(2)
	}
	if body.DurationDays != nil {
		updates["duration_days"] = *body.DurationDays
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.SortOrder != nil {
		updates["sort_order"] = *body.SortOrder
	}
	if body.RateLimit != nil {
		updates["rate_limit"] = *body.RateLimit
	}
	if body.IsEnabled != nil {
		updates["is_enabled"] = *body.IsEnabled
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Plan{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if body.Features == nil {
			return nil
		}
		if errDelete := tx.Where("plan_id = ?", id).Delete(&models.PlanFeature{}).Error; errDelete != nil {
			return errDelete
		}
		features := featureModels(*body.Features)
		for i := range features {
			features[i].PlanID = id
		}
		if len(features) == 0 {
			return nil
		}
		return tx.Create(&features).Error
	})
	if errTx != nil {
		if errors.Is(errTx, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a plan by ID. Plans referenced by subscriptions are kept;
// disable them instead.
func (h *PlanHandler) Delete(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	var refs int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.Subscription{}).
		Where("plan_id = ?", id).Count(&refs).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if refs > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "plan has subscriptions; disable it instead"})
		return
	}

	var affected int64
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errFeatures := tx.Where("plan_id = ?", id).Delete(&models.PlanFeature{}).Error; errFeatures != nil {
			return errFeatures
		}
		res := tx.Delete(&models.Plan{}, id)
		affected = res.RowsAffected
		return res.Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Enable marks a plan as enabled.
func (h *PlanHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable marks a plan as disabled.
func (h *PlanHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

// setEnabled toggles the enabled state for a plan.
func (h *PlanHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}

	now := time.Now().UTC()
	res := h.db.WithContext(c.Request.Context()).Model(&models.Plan{}).Where("id = ?", id).
		Updates(map[string]any{"is_enabled": enabled, "updated_at": now})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func featureModels(in []planFeatureRequest) []models.PlanFeature {
	out := make([]models.PlanFeature, 0, len(in))
	for _, f := range in {
		days := f.DurationDays
		if days <= 0 {
			days = 1
		}
		out = append(out, models.PlanFeature{
			FeatureName:  strings.TrimSpace(f.Name),
			MaxCount:     f.MaxCount,
			DurationDays: days,
		})
	}
	return out
}

// formatPlan converts a plan model into a response payload.
func formatPlan(p *models.Plan) gin.H {
	features := make([]gin.H, 0, len(p.Features))
	for _, f := range p.Features {
		features = append(features, gin.H{
			"id":            f.ID,
			"name":          f.FeatureName,
			"max_count":     f.MaxCount,
			"duration_days": f.DurationDays,
		})
	}
	return gin.H{
		"id":            p.ID,
		"name":          p.Name,
		"type":          p.Type,
		"price":         p.Price.StringFixed(2),
		"duration_days": p.DurationDays,
		"description":   p.Description,
		"sort_order":    p.SortOrder,
		"rate_limit":    p.RateLimit,
		"is_enabled":    p.IsEnabled,
		"features":      features,
		"created_at":    p.CreatedAt,
		"updated_at":    p.UpdatedAt,
	}
}
