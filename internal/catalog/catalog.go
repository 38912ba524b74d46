package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"gorm.io/gorm"
)

// The lookups below accept either the base connection or an open transaction.

// PlanByID loads a plan with its features.
func PlanByID(ctx context.Context, conn *gorm.DB, id uint64) (*models.Plan, error) {
	var plan models.Plan
	if err := conn.WithContext(ctx).Preload("Features").Where("id = ?", id).Take(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NotFoundf("plan %d", id)
		}
		return nil, fmt.Errorf("catalog: load plan %d: %w", id, err)
	}
	return &plan, nil
}

// PlanByName loads a plan by case-insensitive name.
func PlanByName(ctx context.Context, conn *gorm.DB, name string) (*models.Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, billing.NotFoundf("plan with empty name")
	}
	var plan models.Plan
	if err := conn.WithContext(ctx).Preload("Features").
		Where(db.CaseInsensitiveEqualExpr("name"), strings.ToLower(name)).
		Order("id ASC").
		Take(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NotFoundf("plan %q", name)
		}
		return nil, fmt.Errorf("catalog: load plan %q: %w", name, err)
	}
	return &plan, nil
}

// FallbackPlan returns the zero-cost plan subscribers are moved to on downgrade.
func FallbackPlan(ctx context.Context, conn *gorm.DB) (*models.Plan, error) {
	plan, err := PlanByName(ctx, conn, internalsettings.FreePlanName())
	if err == nil {
		if plan.Price.IsPositive() {
			return nil, fmt.Errorf("catalog: fallback plan %q is not zero-cost", plan.Name)
		}
		return plan, nil
	}
	if !billing.IsNotFound(err) {
		return nil, err
	}

	var free models.Plan
	if errFind := conn.WithContext(ctx).Preload("Features").
		Where("type = ? AND price <= 0", models.PlanTypeFree).
		Order("id ASC").
		Take(&free).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, billing.NotFoundf("fallback plan")
		}
		return nil, fmt.Errorf("catalog: load fallback plan: %w", errFind)
	}
	return &free, nil
}

// ListPlans returns plans ordered for display.
func ListPlans(ctx context.Context, conn *gorm.DB, enabledOnly bool) ([]models.Plan, error) {
	q := conn.WithContext(ctx).Preload("Features").Order("sort_order ASC").Order("id ASC")
	if enabledOnly {
		q = q.Where("is_enabled = ?", true)
	}
	var plans []models.Plan
	if err := q.Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("catalog: list plans: %w", err)
	}
	return plans, nil
}

// Entitlement returns the feature grant of plan, or ErrNoEntitlement.
func Entitlement(plan *models.Plan, feature string) (models.PlanFeature, error) {
	feature = strings.TrimSpace(feature)
	if plan != nil {
		for _, f := range plan.Features {
			if strings.EqualFold(f.FeatureName, feature) {
				return f, nil
			}
		}
	}
	return models.PlanFeature{}, fmt.Errorf("%w: %q", billing.ErrNoEntitlement, feature)
}

// PolicyFor returns the refund policy for planType. A nil policy with a nil
// error means none is configured.
func PolicyFor(ctx context.Context, conn *gorm.DB, planType models.PlanType) (*models.RefundPolicy, error) {
	if planType == "" {
		return nil, nil
	}
	var policy models.RefundPolicy
	if err := conn.WithContext(ctx).Where("plan_type = ?", planType).Take(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: load refund policy %q: %w", planType, err)
	}
	return &policy, nil
}
