package models

import "time"

// FeatureUsage counts metered calls of a feature within the current window.
type FeatureUsage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriptionID uint64       `gorm:"not null;uniqueIndex:idx_feature_usages_subscription_feature"`                   // Owning subscription ID.
	Subscription   Subscription `gorm:"foreignKey:SubscriptionID"`                                                      // Owning subscription.
	FeatureName    string       `gorm:"type:varchar(255);not null;uniqueIndex:idx_feature_usages_subscription_feature"` // Metered feature.

	MaxCount     int `gorm:"not null;default:0"` // Calls per window, 0 for unlimited.
	UsedCount    int `gorm:"not null;default:0"` // Calls used in the current window.
	DurationDays int `gorm:"not null;default:1"` // Rollover window in days.

	LastUpdatedAt time.Time `gorm:"not null"` // Instant of the last counted call.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
