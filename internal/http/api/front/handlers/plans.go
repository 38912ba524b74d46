package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/models"
	"gorm.io/gorm"
)

// PlanFrontHandler serves plan-related front endpoints.
type PlanFrontHandler struct {
	db *gorm.DB
}

// NewPlanFrontHandler constructs a PlanFrontHandler.
func NewPlanFrontHandler(db *gorm.DB) *PlanFrontHandler {
	return &PlanFrontHandler{db: db}
}

// List returns enabled plans with their feature grants.
func (h *PlanFrontHandler) List(c *gin.Context) {
	plans, errList := catalog.ListPlans(c.Request.Context(), h.db, true)
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(plans))
	for i := range plans {
		out = append(out, formatPlan(&plans[i]))
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

func formatPlan(p *models.Plan) gin.H {
	if p == nil || p.ID == 0 {
		return nil
	}
	features := make([]gin.H, 0, len(p.Features))
	for _, f := range p.Features {
		features = append(features, gin.H{
			"name":          f.FeatureName,
			"max_count":     f.MaxCount,
			"duration_days": f.DurationDays,
			"unlimited":     f.MaxCount <= 0,
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
		"features":      features,
	}
}
