package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// billingModels lists every table owned by the service.
func billingModels() []any {
	return []any{
		&models.Plan{},
		&models.PlanFeature{},
		&models.RefundPolicy{},
		&models.Subscription{},
		&models.SubscriberLock{},
		&models.Transaction{},
		&models.FeatureUsage{},
		&models.WebhookEvent{},
		&models.Notification{},
		&models.Setting{},
	}
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(billingModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errActiveIdx := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
		ON subscriptions (subscriber_id) WHERE is_active
	`).Error; errActiveIdx != nil {
		return fmt.Errorf("db: create active subscription index: %w", errActiveIdx)
	}
	if errAmountCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_transactions_amount_non_negative'
			) THEN
				ALTER TABLE transactions
				ADD CONSTRAINT chk_transactions_amount_non_negative CHECK (amount >= 0);
			END IF;
		END $$;
	`).Error; errAmountCheck != nil {
		return fmt.Errorf("db: add transaction amount check: %w", errAmountCheck)
	}
	if errUsageCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_feature_usages_used_non_negative'
			) THEN
				ALTER TABLE feature_usages
				ADD CONSTRAINT chk_feature_usages_used_non_negative CHECK (used_count >= 0);
			END IF;
		END $$;
	`).Error; errUsageCheck != nil {
		return fmt.Errorf("db: add usage check: %w", errUsageCheck)
	}

	return ensureSeeds(conn)
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(billingModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errActiveIdx := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
		ON subscriptions (subscriber_id) WHERE is_active = 1
	`).Error; errActiveIdx != nil {
		return fmt.Errorf("db: create active subscription index: %w", errActiveIdx)
	}

	return ensureSeeds(conn)
}

// ensureSeeds inserts the rows the service cannot run without.
func ensureSeeds(conn *gorm.DB) error {
	if errSeed := ensureFreePlan(conn); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureIntSetting(conn, internalsettings.RateLimitKey, internalsettings.DefaultRateLimit); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureBoolSetting(conn, internalsettings.RateLimitRedisEnabledKey, false); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureStringSetting(conn, internalsettings.FreePlanNameKey, internalsettings.DefaultFreePlanName); errSeed != nil {
		return errSeed
	}
	return ensureIntSetting(conn, internalsettings.FallbackPlanDaysKey, internalsettings.DefaultFallbackPlanDays)
}

// ensureFreePlan makes sure the zero-cost fallback plan exists.
func ensureFreePlan(conn *gorm.DB) error {
	var count int64
	if errCount := conn.Model(&models.Plan{}).
		Where(CaseInsensitiveEqualExpr("name")+" OR type = ?", strings.ToLower(internalsettings.DefaultFreePlanName), models.PlanTypeFree).
		Count(&count).Error; errCount != nil {
		return fmt.Errorf("db: count free plan: %w", errCount)
	}
	if count > 0 {
		return nil
	}
	plan := models.Plan{
		Name:         internalsettings.DefaultFreePlanName,
		Type:         models.PlanTypeFree,
		Price:        decimal.Zero,
		DurationDays: internalsettings.DefaultFallbackPlanDays,
		Description:  "Free tier",
		IsEnabled:    true,
		Features: []models.PlanFeature{
			{FeatureName: "Basic Reports", MaxCount: 0, DurationDays: 1},
		},
	}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		return fmt.Errorf("db: create free plan: %w", errCreate)
	}
	return nil
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	return ensureSetting(conn, key, value)
}

// ensureBoolSetting ensures a boolean setting exists and defaults when empty.
func ensureBoolSetting(conn *gorm.DB, key string, value bool) error {
	return ensureSetting(conn, key, value)
}

// ensureStringSetting ensures a string setting exists and defaults when empty.
func ensureStringSetting(conn *gorm.DB, key string, value string) error {
	return ensureSetting(conn, key, value)
}

func ensureSetting(conn *gorm.DB, key string, value any) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	rawValue := datatypes.JSON(payload)

	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
