package models

import "time"

// Subscription records a subscriber's entitlement to a plan.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriberID uint64 `gorm:"not null;uniqueIndex:idx_subscriptions_subscriber_plan"` // Owning subscriber.
	PlanID       uint64 `gorm:"not null;uniqueIndex:idx_subscriptions_subscriber_plan"` // Subscribed plan ID.
	Plan         Plan   `gorm:"foreignKey:PlanID"`                                      // Subscribed plan.

	StartDate time.Time `gorm:"not null"`       // First day of the term.
	EndDate   time.Time `gorm:"not null"`       // Last day of the term.
	ExpireAt  time.Time `gorm:"not null;index"` // Exact expiry instant.

	IsActive bool `gorm:"not null;default:false;index"` // Whether the subscription is current.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Live reports whether the subscription is active and unexpired at now.
func (s *Subscription) Live(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.IsActive && s.ExpireAt.After(now)
}

// SubscriberLock serializes ledger writes per subscriber.
type SubscriberLock struct {
	SubscriberID uint64    `gorm:"primaryKey;autoIncrement:false"` // Locked subscriber.
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`        // Creation timestamp.
}
