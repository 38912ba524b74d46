package catalog

import (
	"context"
	"fmt"

	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Feature names granted by the built-in plans.
const (
	FeatureBasicReports      = "Basic Reports"
	FeatureAdvancedAnalytics = "Advanced Analytics"
	FeatureAIAssistant       = "AI Assistant"
	FeaturePrioritySupport   = "Priority Support"
	FeatureUnlimitedFields   = "Unlimited Fields"
)

// DefaultAIAssistantDailyCalls is the AI Assistant allowance of the top-up plan.
const DefaultAIAssistantDailyCalls = 8

// DefaultDefinition returns the built-in plan catalog.
func DefaultDefinition() Definition {
	return Definition{
		Plans: []models.Plan{
			{
				Name:         "Free",
				Type:         models.PlanTypeFree,
				Price:        decimal.Zero,
				DurationDays: 365,
				Description:  "Free tier",
				IsEnabled:    true,
				Features: []models.PlanFeature{
					{FeatureName: FeatureBasicReports, DurationDays: 1},
				},
			},
			{
				Name:         "MainPlan",
				Type:         models.PlanTypeMain,
				Price:        decimal.NewFromInt(19),
				DurationDays: 30,
				Description:  "Core farm management",
				SortOrder:    10,
				IsEnabled:    true,
				Features: []models.PlanFeature{
					{FeatureName: FeatureBasicReports, DurationDays: 1},
					{FeatureName: FeatureAdvancedAnalytics, DurationDays: 1},
				},
			},
			{
				Name:         "TopUpPlan",
				Type:         models.PlanTypeTopup,
				Price:        decimal.NewFromInt(9),
				DurationDays: 30,
				Description:  "AI assistant add-on",
				SortOrder:    20,
				IsEnabled:    true,
				Features: []models.PlanFeature{
					{FeatureName: FeatureAIAssistant, MaxCount: DefaultAIAssistantDailyCalls, DurationDays: 1},
				},
			},
			{
				Name:         "EnterprisePlan",
				Type:         models.PlanTypeEnterprise,
				Price:        decimal.NewFromInt(129),
				DurationDays: 30,
				Description:  "Everything, unmetered",
				SortOrder:    30,
				IsEnabled:    true,
				Features: []models.PlanFeature{
					{FeatureName: FeatureAIAssistant, DurationDays: 1},
					{FeatureName: FeatureAdvancedAnalytics, DurationDays: 1},
					{FeatureName: FeaturePrioritySupport, DurationDays: 1},
					{FeatureName: FeatureUnlimitedFields, DurationDays: 1},
				},
			},
		},
	}
}

// Seed inserts the built-in plans that do not exist yet. Existing plans and
// their features are never modified.
func Seed(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("seed catalog: nil db")
	}
	def := DefaultDefinition()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range def.Plans {
			plan := def.Plans[i]
			features := plan.Features
			plan.Features = nil
			res := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
				Create(&plan)
			if res.Error != nil {
				return fmt.Errorf("seed catalog: plan %q: %w", plan.Name, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			var stored models.Plan
			if err := tx.Select("id").Where("name = ?", plan.Name).Take(&stored).Error; err != nil {
				return fmt.Errorf("seed catalog: reload plan %q: %w", plan.Name, err)
			}
			for j := range features {
				feature := features[j]
				feature.PlanID = stored.ID
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_name"}},
					DoNothing: true,
				}).Create(&feature).Error; err != nil {
					return fmt.Errorf("seed catalog: feature %q of %q: %w", feature.FeatureName, plan.Name, err)
				}
			}
		}
		return nil
	})
}
