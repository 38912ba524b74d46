package ratelimit

import (
	"context"
	"time"

	"github.com/oelp-platform/billing/internal/models"
	"gorm.io/gorm"
)

// ResolveLimit resolves the effective rate limit for a caller.
// The live plan of an authenticated subscriber takes priority. Anonymous
// callers and subscribers without a plan limit fall back to the settings limit.
func ResolveLimit(ctx context.Context, db *gorm.DB, subscriberID uint64, now time.Time) (Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if db != nil && subscriberID > 0 {
		planLimit, errPlan := resolvePlanRateLimit(ctx, db, subscriberID, now.UTC())
		if errPlan != nil {
			return Decision{}, errPlan
		}
		if planLimit > 0 {
			return Decision{Limit: planLimit, Scope: ScopeSubscriber}, nil
		}
	}

	settingsLimit := LoadSettingsConfig().Limit
	if settingsLimit <= 0 {
		return Decision{}, nil
	}
	if subscriberID > 0 {
		return Decision{Limit: settingsLimit, Scope: ScopeSubscriber}, nil
	}
	return Decision{Limit: settingsLimit, Scope: ScopeClient}, nil
}

func resolvePlanRateLimit(ctx context.Context, db *gorm.DB, subscriberID uint64, now time.Time) (int, error) {
	var limits []int
	if errFind := db.WithContext(ctx).
		Model(&models.Subscription{}).
		Joins("JOIN plans ON plans.id = subscriptions.plan_id").
		Where("subscriptions.subscriber_id = ? AND subscriptions.is_active = ? AND subscriptions.expire_at > ?", subscriberID, true, now).
		Pluck("plans.rate_limit", &limits).Error; errFind != nil {
		return 0, errFind
	}
	total := 0
	for _, limit := range limits {
		if limit > 0 {
			total += limit
		}
	}
	return total, nil
}
