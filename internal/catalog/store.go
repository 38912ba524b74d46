package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/oelp-platform/billing/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store upserts plans by name and refund policies by plan type in one
// transaction. Each stored plan's feature set is replaced by the given one.
// Rows absent from def are left untouched.
func Store(ctx context.Context, db *gorm.DB, def Definition, syncTime time.Time) error {
	if db == nil {
		return fmt.Errorf("store catalog: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if syncTime.IsZero() {
		syncTime = time.Now().UTC()
	}
	syncTime = syncTime.UTC()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range def.Plans {
			if err := storePlan(tx, def.Plans[i], syncTime); err != nil {
				return err
			}
		}
		for i := range def.RefundPolicies {
			policy := def.RefundPolicies[i]
			policy.ID = 0
			policy.CreatedAt = syncTime
			policy.UpdatedAt = syncTime
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "plan_type"}},
				DoUpdates: clause.AssignmentColumns([]string{"refund_percentage", "days_after_purchase", "updated_at"}),
			}).Create(&policy).Error; err != nil {
				return fmt.Errorf("store catalog: upsert refund policy %q: %w", policy.PlanType, err)
			}
		}
		return nil
	})
}

func storePlan(tx *gorm.DB, plan models.Plan, syncTime time.Time) error {
	features := plan.Features
	row := plan
	row.ID = 0
	row.Features = nil
	row.CreatedAt = syncTime
	row.UpdatedAt = syncTime

	if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type",
			"price",
			"duration_days",
			"description",
			"sort_order",
			"rate_limit",
			"updated_at",
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("store catalog: upsert plan %q: %w", plan.Name, err)
	}

	var stored models.Plan
	if err := tx.Select("id").Where("name = ?", plan.Name).Take(&stored).Error; err != nil {
		return fmt.Errorf("store catalog: reload plan %q: %w", plan.Name, err)
	}
	// is_enabled has a column default, so false must be written explicitly.
	if err := tx.Model(&models.Plan{}).Where("id = ?", stored.ID).
		Update("is_enabled", plan.IsEnabled).Error; err != nil {
		return fmt.Errorf("store catalog: set plan %q enabled: %w", plan.Name, err)
	}

	names := make([]string, 0, len(features))
	for i := range features {
		feature := features[i]
		feature.ID = 0
		feature.PlanID = stored.ID
		feature.CreatedAt = syncTime
		feature.UpdatedAt = syncTime
		names = append(names, feature.FeatureName)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"max_count", "duration_days", "updated_at"}),
		}).Create(&feature).Error; err != nil {
			return fmt.Errorf("store catalog: upsert feature %q of %q: %w", feature.FeatureName, plan.Name, err)
		}
	}

	prune := tx.Where("plan_id = ?", stored.ID)
	if len(names) > 0 {
		prune = prune.Where("feature_name NOT IN ?", names)
	}
	if err := prune.Delete(&models.PlanFeature{}).Error; err != nil {
		return fmt.Errorf("store catalog: prune features of %q: %w", plan.Name, err)
	}
	return nil
}
